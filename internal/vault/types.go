package vault

// Item is one vault entry as recorded in the metadata index. The index
// is persisted newest-first as a single AEAD envelope per identity.
type Item struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	ImportedAt   int64  `json:"imported_at"`
}

// Query filters List results. Zero value matches everything.
type Query struct {
	MimeType     string
	NameContains string
}

// Preview couples decrypted bytes with the release token the renderer
// must present back so the manager can wipe the retained buffer.
type Preview struct {
	Item  Item
	Data  []byte
	Token string
}

// Progress is invoked at item granularity during long-running bulk
// operations. It runs without any manager lock held.
type Progress func(done, total int)

// Object-store names used by the manager.
const (
	metaRealName    = "meta/real"
	metaDecoyName   = "meta/decoy"
	rotationJournal = "meta/rotation"
	filePrefix      = "file/"
)
