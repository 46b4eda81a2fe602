package httpdto

type PresignRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	SizeBytes   int64  `json:"size_bytes"`
}

// PresignResponse tells the client where to PUT the file and what to put in the
// attachments of a sendMessage afterwards.
type PresignResponse struct {
	UploadURL  string            `json:"upload_url"`
	Headers    map[string]string `json:"headers"`
	Key        string            `json:"key"`
	Attachment string            `json:"attachment"`
}
