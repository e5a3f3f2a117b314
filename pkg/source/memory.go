package source

import (
	"context"

	"github.com/LeeDigitalWorks/zapload/pkg/utils"
)

// Memory is an in-memory Source for tests and small synthetic payloads.
type Memory struct {
	name string
	data []byte
}

var _ Source = (*Memory)(nil)

// Bytes wraps data as a Source named name.
func Bytes(name string, data []byte) *Memory {
	return &Memory{name: name, data: data}
}

func (s *Memory) Name() string {
	return s.name
}

func (s *Memory) Size() int64 {
	return int64(len(s.data))
}

func (s *Memory) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(start, end, s.Size()); err != nil {
		return nil, err
	}
	out := utils.GetBuffer(int(end - start))
	copy(out, s.data[start:end])
	return out, nil
}

func (s *Memory) Close() error {
	return nil
}
