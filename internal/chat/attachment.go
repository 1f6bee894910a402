package chat

// Attachment is out-of-band file metadata owned by one image message.
type Attachment struct {
	MessageID        int64  `json:"message_idx"`
	AttachmentID     int64  `json:"attach_idx"`
	URL              string `json:"cloudinary_url"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	SizeBytes        int64  `json:"file_size_bytes"`
}

// AttachmentState is the client-side resolution state of an attachment.
type AttachmentState string

const (
	AttachmentPending  AttachmentState = "pending"
	AttachmentResolved AttachmentState = "resolved"
	AttachmentFailed   AttachmentState = "failed"
)

// AttachmentEntry pairs a resolution state with the resolved metadata.
// Attachment is nil unless State is AttachmentResolved.
type AttachmentEntry struct {
	State      AttachmentState
	Attachment *Attachment
}
