package llamastack

import "regexp"

// KnowledgeSearchToolName is the document retrieval tool whose responses carry
// citation metadata.
const KnowledgeSearchToolName = "knowledge_search"

const fileNameField = "file_name"

// Retrieved chunks embed their metadata as a printed dict, e.g.
// `Metadata: {'file_name': 'handbook.pdf', ...}`.
var fileNamePattern = regexp.MustCompile(`file_name['"]:\s*['"]([^'"]+)['"]`)

// ExtractCitations returns the documents referenced by knowledge search
// responses, deduplicated and in first-seen order.
func ExtractCitations(responses []ToolResponse) []string {
	var documents []string
	seen := map[string]struct{}{}
	for _, response := range responses {
		if response.ToolName != KnowledgeSearchToolName {
			continue
		}

		for _, item := range response.Content {
			if item.Type != "text" || item.Text == "" {
				continue
			}
			for _, match := range fileNamePattern.FindAllStringSubmatch(item.Text, -1) {
				document := match[1]
				if document == fileNameField {
					continue
				}
				if _, ok := seen[document]; ok {
					continue
				}
				seen[document] = struct{}{}
				documents = append(documents, document)
			}
		}
	}
	return documents
}
