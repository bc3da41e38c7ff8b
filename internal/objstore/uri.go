package objstore

import "strings"

// URI is a parsed scheme://bucket/key object reference.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

func (u URI) String() string {
	return u.Scheme + "://" + u.Bucket + "/" + u.Key
}

// ParseURI splits scheme://bucket/key. It reports false for local paths and for
// URIs missing a bucket or key.
func ParseURI(s string) (URI, bool) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return URI{}, false
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return URI{}, false
	}
	return URI{Scheme: strings.ToLower(scheme), Bucket: bucket, Key: key}, true
}
