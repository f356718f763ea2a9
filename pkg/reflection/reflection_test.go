package reflection

import (
	"bytes"
	"testing"

	"github.com/forest6511/diaryctl/pkg/cache"
	"github.com/forest6511/diaryctl/pkg/record"
	"github.com/forest6511/diaryctl/pkg/session"
)

type memStore map[string]*record.EncryptedRecord

func (m memStore) GetArtifact(name string) (*record.EncryptedRecord, error) {
	rec, ok := m[name]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return rec, nil
}

func (m memStore) PutArtifact(name string, rec *record.EncryptedRecord) error {
	m[name] = rec
	return nil
}

func (m memStore) DeleteArtifact(name string) error {
	delete(m, name)
	return nil
}

func newCodec(t *testing.T) (*record.Codec, *session.Holder) {
	t.Helper()
	h := session.New()
	if err := h.Set(bytes.Repeat([]byte{7}, 32)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	return record.NewCodec(h), h
}
