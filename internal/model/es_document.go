package model

// EsDocument 定义了存储在 Elasticsearch 中的课程文件文档结构。
type EsDocument struct {
	FileID            string    `json:"file_id"`
	OwnerID           uint      `json:"owner_id"`
	CourseID          string    `json:"course_id,omitempty"`
	DisplayName       string    `json:"display_name"`
	ContentType       string    `json:"content_type"`
	Category          string    `json:"category,omitempty"`
	SuggestedCourseID string    `json:"suggested_course_id,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	TextContent       string    `json:"text_content,omitempty"`
	Translation       string    `json:"translation,omitempty"`
	CreatedAt         LocalTime `json:"created_at"`
}
