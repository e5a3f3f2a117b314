// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"sync"
	"time"
)

func init() {
	Register(TypeMemory, func(cfg Config) (Backend, error) {
		return NewMemory(), nil
	})
}

type memoryPart struct {
	data []byte
	tag  string
}

type memorySession struct {
	key   string
	parts map[int]memoryPart
}

type memoryObject struct {
	data      []byte
	partCount int
}

// Memory is an in-memory Backend for tests. Fault-injection knobs must only
// be touched while no upload is in flight; counters may be read at any
// quiescent point.
type Memory struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*memorySession
	objects  map[string]*memoryObject

	// Fault injection, all optional.
	PartFailures      map[int]int      // part number -> induced failures before success
	PartFailureErr    error            // error used for induced part failures
	EmptyTagParts     map[int]bool     // parts acknowledged without a content tag
	CompleteFailures  int              // induced completion failures before success
	GetObjectFailures int              // induced download failures before success
	FailDownloadRef   bool             // presign requests always fail
	SizeOverride      map[string]int64 // reported object size by key
	PartCountOverride map[string]int   // reported part count by key

	initiateCalls int
	abortCalls    int
	listCalls     int
	partAttempts  map[int]int
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[string]*memorySession),
		objects:      make(map[string]*memoryObject),
		partAttempts: make(map[int]int),
	}
}

func (m *Memory) InitiateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initiateCalls++
	m.seq++
	id := fmt.Sprintf("mem-upload-%d", m.seq)
	m.sessions[id] = &memorySession{
		key:   key,
		parts: make(map[int]memoryPart),
	}
	return id, nil
}

func (m *Memory) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify("upload_part", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.partAttempts[partNumber]++

	sess, ok := m.sessions[uploadID]
	if !ok {
		return "", noSuchUpload("upload_part", uploadID)
	}
	if sess.key != key {
		return "", &Error{Op: "upload_part", Code: "NoSuchKey", Message: "key does not match session", Retryable: false}
	}

	if remaining := m.PartFailures[partNumber]; remaining > 0 {
		m.PartFailures[partNumber] = remaining - 1
		if m.PartFailureErr != nil {
			return "", m.PartFailureErr
		}
		return "", &Error{Op: "upload_part", Code: "RequestTimeout", Message: "injected timeout", Retryable: true}
	}

	tag := fmt.Sprintf("etag-%d-%08x", partNumber, crc32.ChecksumIEEE(body))
	if m.EmptyTagParts[partNumber] {
		tag = ""
	}

	data := make([]byte, len(body))
	copy(data, body)
	sess.parts[partNumber] = memoryPart{data: data, tag: tag}
	return tag, nil
}

func (m *Memory) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[uploadID]
	if !ok {
		return "", noSuchUpload("complete_multipart", uploadID)
	}

	if m.CompleteFailures > 0 {
		m.CompleteFailures--
		return "", &Error{Op: "complete_multipart", Code: "InternalError", Message: "injected completion failure", Retryable: true}
	}

	ordered := make([]CompletedPart, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })

	var buf bytes.Buffer
	for _, p := range ordered {
		stored, ok := sess.parts[p.PartNumber]
		if !ok {
			return "", &Error{Op: "complete_multipart", Code: "InvalidPart", Message: fmt.Sprintf("part %d was never uploaded", p.PartNumber), Retryable: false}
		}
		if p.ContentTag != "" && stored.tag != "" && p.ContentTag != stored.tag {
			return "", &Error{Op: "complete_multipart", Code: "InvalidPart", Message: fmt.Sprintf("part %d tag mismatch", p.PartNumber), Retryable: false}
		}
		buf.Write(stored.data)
	}

	m.objects[key] = &memoryObject{data: buf.Bytes(), partCount: len(ordered)}
	delete(m.sessions, uploadID)
	return "memory://" + key, nil
}

func (m *Memory) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCalls++
	if _, ok := m.sessions[uploadID]; !ok {
		return noSuchUpload("abort_multipart", uploadID)
	}
	delete(m.sessions, uploadID)
	return nil
}

func (m *Memory) ListUploadedParts(ctx context.Context, key, uploadID string) ([]PartInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	sess, ok := m.sessions[uploadID]
	if !ok {
		return nil, noSuchUpload("list_parts", uploadID)
	}

	parts := make([]PartInfo, 0, len(sess.parts))
	for n, p := range sess.parts {
		parts = append(parts, PartInfo{PartNumber: n, ContentTag: p.tag, Size: int64(len(p.data))})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

func (m *Memory) GetObjectInfo(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, &Error{Op: "get_object_info", Code: "NoSuchKey", Message: "object not found: " + key, Retryable: false}
	}

	info := &ObjectInfo{Size: int64(len(obj.data)), PartCount: obj.partCount}
	if size, ok := m.SizeOverride[key]; ok {
		info.Size = size
	}
	if count, ok := m.PartCountOverride[key]; ok {
		info.PartCount = count
	}
	return info, nil
}

func (m *Memory) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetObjectFailures > 0 {
		m.GetObjectFailures--
		return nil, &Error{Op: "get_object", Code: "SlowDown", Message: "injected download failure", Retryable: true}
	}

	obj, ok := m.objects[key]
	if !ok {
		return nil, &Error{Op: "get_object", Code: "NoSuchKey", Message: "object not found: " + key, Retryable: false}
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) GenerateDownloadReference(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDownloadRef {
		return "", &Error{Op: "presign_get_object", Code: "ServiceUnavailable", Message: "injected presign failure", Retryable: true}
	}
	if _, ok := m.objects[key]; !ok {
		return "", &Error{Op: "presign_get_object", Code: "NoSuchKey", Message: "object not found: " + key, Retryable: false}
	}
	return fmt.Sprintf("memory://%s?expires=%ds", key, int(ttl.Seconds())), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*memorySession)
	m.objects = make(map[string]*memoryObject)
	return nil
}

func noSuchUpload(op, uploadID string) error {
	return &Error{Op: op, Code: "NoSuchUpload", Message: "no such upload: " + uploadID, Retryable: false}
}

// Object returns the assembled bytes for key, for test assertions.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, true
}

// SessionCount returns how many multipart sessions remain open.
func (m *Memory) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PartAttempts returns how many upload attempts part n has seen.
func (m *Memory) PartAttempts(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partAttempts[n]
}

// AbortCalls returns how many times the abort operation was invoked.
func (m *Memory) AbortCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortCalls
}

// ListCalls returns how many times parts were listed.
func (m *Memory) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}
