package testutils

import (
	"context"
	"fmt"

	"github.com/secondme/secondme/pkg/vector"
)

// MockVectorDriver is a test vector driver
type MockVectorDriver struct {
	Upserted []vector.Document
	Deleted  []string
	Results  []vector.QueryResult
	Cleared  bool

	// FailQuery causes Query to return an error
	FailQuery bool

	// FailUpsert causes Upsert to return an error
	FailUpsert bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Upserted: make([]vector.Document, 0),
		Results:  make([]vector.QueryResult, 0),
	}
}

func (m *MockVectorDriver) Upsert(_ context.Context, docs []vector.Document) error {
	if m.FailUpsert {
		return fmt.Errorf("mock upsert failure")
	}
	m.Upserted = append(m.Upserted, docs...)
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, _ []float32, topK int) ([]vector.QueryResult, error) {
	if m.FailQuery {
		return nil, fmt.Errorf("mock query failure")
	}
	if len(m.Results) < topK {
		return m.Results, nil
	}
	return m.Results[:topK], nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.Deleted = append(m.Deleted, ids...)
	return nil
}

func (m *MockVectorDriver) Clear(_ context.Context) error {
	m.Cleared = true
	m.Upserted = m.Upserted[:0]
	m.Results = m.Results[:0]
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}
