package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-overlay-go/internal/ingest"
	"depth-overlay-go/internal/output"
	"depth-overlay-go/internal/simulator"
)

func writeLog(t *testing.T) string {
	t.Helper()
	w, err := output.NewRawLogWriter(t.TempDir(), "raw_cbor")
	require.NoError(t, err)

	start, err := ingest.EncodeMeta("start", map[string]any{"source": "test", "fps": 30})
	require.NoError(t, err)
	require.NoError(t, w.Record(start))

	scene := simulator.NewScene(64, 48, 7)
	for seq := uint64(0); seq < 2; seq++ {
		payload, err := ingest.EncodeFrame(scene.Frame(seq, float64(seq)/30), ingest.FormatBGR8, "zstd")
		require.NoError(t, err)
		require.NoError(t, w.Record(payload))
	}
	require.NoError(t, w.Record([]byte{0xff}))
	require.NoError(t, w.Close())
	return w.Path()
}

func decodeSummaries(t *testing.T, data []byte) []recordSummary {
	t.Helper()
	var out []recordSummary
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var s recordSummary
		require.NoError(t, dec.Decode(&s))
		out = append(out, s)
	}
	return out
}

func TestDumpSummarizesRecords(t *testing.T) {
	path := writeLog(t)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	logger, hook := test.NewNullLogger()
	var buf bytes.Buffer
	require.NoError(t, dump(f, &buf, &options{}, logger))

	summaries := decodeSummaries(t, buf.Bytes())
	require.Len(t, summaries, 4)
	assert.Equal(t, "start", summaries[0].Type)
	assert.Equal(t, "frame", summaries[1].Type)
	require.NotNil(t, summaries[2].Seq)
	assert.Equal(t, uint64(1), *summaries[2].Seq)
	assert.Equal(t, 64, summaries[1].Width)
	assert.Equal(t, 48, summaries[1].Height)
	assert.NotEmpty(t, summaries[3].Error)
	assert.Len(t, hook.AllEntries(), 1)
}

func TestDumpLimitAndReplay(t *testing.T) {
	path := writeLog(t)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	pngDir := filepath.Join(t.TempDir(), "png")
	logger, _ := test.NewNullLogger()
	var buf bytes.Buffer
	require.NoError(t, dump(f, &buf, &options{limit: 2, pngDir: pngDir}, logger))

	summaries := decodeSummaries(t, buf.Bytes())
	require.Len(t, summaries, 2)
	frame := summaries[1]
	require.Len(t, frame.Readings, 3)
	assert.Equal(t, "Center", frame.Readings[0].Label)
	assert.FileExists(t, frame.Snapshot)
	assert.Equal(t, filepath.Join(pngDir, "replay_000000.png"), frame.Snapshot)
}

func TestDumpRejectsForeignFile(t *testing.T) {
	logger, _ := test.NewNullLogger()
	err := dump(bytes.NewReader([]byte("NOTALOG!")), &bytes.Buffer{}, &options{}, logger)
	assert.Error(t, err)
}
