package httpapi

// maxBodyBytes caps the request body for JSON endpoints. Attached
// images arrive base64-encoded inside the body, so the cap leaves room
// for a handful of them.
var maxBodyBytes int64 = 32 << 20

// SetMaxBodyBytes overrides the request body cap.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 32 << 20
		return
	}
	maxBodyBytes = n
}
