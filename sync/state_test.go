package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRecord_AllBuckets(t *testing.T) {
	tests := []struct {
		name     string
		rec      IndexRecord
		state    FileState
		download bool
	}{
		{"unknown", IndexRecord{Kind: KindFile}, StateUnknown, true},
		{"cloud only", IndexRecord{Kind: KindFile, CloudHash: "aa11"}, StateCloudOnly, true},
		{"local only", IndexRecord{Kind: KindFile, LocalHash: "aa11"}, StateLocalOnly, false},
		{"in sync", IndexRecord{Kind: KindFile, CloudHash: "aa11", LocalHash: "aa11"}, StateInSync, false},
		{"in sync mixed case", IndexRecord{Kind: KindFile, CloudHash: "AA11", LocalHash: "aa11"}, StateInSync, false},
		{"stale", IndexRecord{Kind: KindFile, CloudHash: "cc33", LocalHash: "bb22"}, StateStale, true},
		{"folder", IndexRecord{Kind: KindFolder}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, ClassifyRecord(&tt.rec))
			assert.Equal(t, tt.download, NeedsDownload(&tt.rec))
		})
	}
}

func TestHashesMatch(t *testing.T) {
	assert.True(t, (&IndexRecord{CloudHash: "ABCD", LocalHash: "abcd"}).HashesMatch())
	assert.False(t, (&IndexRecord{CloudHash: "", LocalHash: ""}).HashesMatch())
	assert.False(t, (&IndexRecord{CloudHash: "abcd"}).HashesMatch())
}
