package types

// MetadataIntent is the UserMessage metadata key naming a narrower exchange riding the chat transport.
const MetadataIntent = "intent"

// IntentSectionEdit marks a user_message as an inline section edit request.
const IntentSectionEdit = "section_edit"

// SectionEditRequest asks the assistant to apply an instruction to one page section.
type SectionEditRequest struct {
	SectionInstanceID string `json:"sectionInstanceId"`
	PageID            string `json:"pageId"`
	SectionID         string `json:"sectionId"`
	Instruction       string `json:"instruction"`
}

// Metadata encodes the request into user_message metadata.
func (r SectionEditRequest) Metadata() map[string]any {
	return map[string]any{
		MetadataIntent:      IntentSectionEdit,
		"sectionInstanceId": r.SectionInstanceID,
		"pageId":            r.PageID,
		"sectionId":         r.SectionID,
	}
}

// SectionEditFromMetadata decodes a request previously encoded with Metadata.
func SectionEditFromMetadata(content string, metadata map[string]any) (SectionEditRequest, bool) {
	if metadata == nil {
		return SectionEditRequest{}, false
	}
	if intent, _ := metadata[MetadataIntent].(string); intent != IntentSectionEdit {
		return SectionEditRequest{}, false
	}
	req := SectionEditRequest{Instruction: content}
	req.SectionInstanceID, _ = metadata["sectionInstanceId"].(string)
	req.PageID, _ = metadata["pageId"].(string)
	req.SectionID, _ = metadata["sectionId"].(string)
	return req, true
}

// UpdatedSection is the structured result of a section edit.
type UpdatedSection struct {
	SectionInstanceID string         `json:"sectionInstanceId"`
	PageID            string         `json:"pageId"`
	SectionID         string         `json:"sectionId"`
	Summary           string         `json:"summary"`
	Props             map[string]any `json:"props,omitempty"`
}
