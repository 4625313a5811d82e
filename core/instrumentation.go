package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-chat/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	decodeWarningCounter, _ = meter.Int64Counter("assembler.decode_warnings",
		metric.WithDescription("Stream payloads dropped because they could not be decoded"))
	unrecognizedEventCounter, _ = meter.Int64Counter("assembler.unrecognized_events",
		metric.WithDescription("Stream events ignored because their type is unknown"))
	deltaCounter, _ = meter.Int64Counter("assembler.deltas",
		metric.WithDescription("Text deltas received from the stream"))
)
