package models

// UploadedFile is a raw file as received from the client. It only lives for
// the duration of a parse call.
type UploadedFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     []byte
}
