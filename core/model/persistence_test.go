package model

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

type fakeArtifact struct {
	Name    string
	Weights []float64
	Classes map[string]int
}

func (f *fakeArtifact) ArtifactKind() string { return "FakeArtifact" }

type otherArtifact struct{ N int }

func (o *otherArtifact) ArtifactKind() string { return "OtherArtifact" }

// explodingArtifact は読み込み中に panic する
type explodingArtifact struct{}

func (e *explodingArtifact) ArtifactKind() string        { return "Exploding" }
func (e *explodingArtifact) GobEncode() ([]byte, error)  { return []byte{1}, nil }
func (e *explodingArtifact) GobDecode(data []byte) error { panic("decoder blew up") }

func TestStore_LoadRecoversPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exploding.bin")
	store := NewStore()
	require.NoError(t, store.Save(path, &explodingArtifact{}))

	var header *ArtifactHeader
	var err error
	require.NotPanics(t, func() { header, err = store.Load(path, &explodingArtifact{}) })
	assert.Nil(t, header)

	var de *errors.DeserializationError
	require.True(t, errors.As(err, &de), "want DeserializationError, got %v", err)
	assert.Equal(t, path, de.Path)
	var pe *errors.PanicError
	assert.True(t, errors.As(err, &pe))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "artifacts", "model.bin")

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	store := NewStore(WithStoreLogger(logger), WithClock(func() time.Time { return fixed }))

	in := &fakeArtifact{Name: "forest", Weights: []float64{0.25, 0.75}, Classes: map[string]int{"No": 0, "Yes": 1}}
	require.NoError(t, store.Save(path, in))

	out := &fakeArtifact{}
	header, err := store.Load(path, out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "FakeArtifact", header.Kind)
	assert.Equal(t, FormatVersion, header.FormatVersion)
	assert.Equal(t, CodecGobSnappy, header.Codec)
	assert.True(t, fixed.Equal(header.CreatedAt))
	assert.True(t, logger.ContainsMessage("Artifact saved"))

	// 一時ファイルが残っていないこと
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, SaveModel(&fakeArtifact{Name: "first"}, path))
	require.NoError(t, SaveModel(&fakeArtifact{Name: "second"}, path))

	out := &fakeArtifact{}
	require.NoError(t, LoadModel(out, path))
	assert.Equal(t, "second", out.Name)
}

func TestStore_LoadFailures(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.bin")
	require.NoError(t, SaveModel(&fakeArtifact{Name: "x", Weights: []float64{1, 2, 3}}, valid))
	blob, err := os.ReadFile(valid)
	require.NoError(t, err)

	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	badMagic := append([]byte("XXXX"), blob[4:]...)
	truncated := blob[:len(blob)-3]
	// snappy の長さ varint を壊す
	corrupt := append([]byte{}, blob...)
	payloadStart := 8 + int(binary.BigEndian.Uint32(blob[4:8]))
	corrupt[payloadStart] ^= 0xFF
	corrupt[payloadStart+1] ^= 0xFF

	payload := blob[payloadStart:]
	withSize := func(size int64) []byte {
		return forge(t, ArtifactHeader{
			Kind:          "FakeArtifact",
			FormatVersion: FormatVersion,
			Codec:         CodecGobSnappy,
			PayloadBytes:  size,
		}, payload)
	}
	hugeHeaderLen := append([]byte{}, blob...)
	binary.BigEndian.PutUint32(hugeHeaderLen[4:8], 0xFFFFFFFF)
	zeroHeaderLen := append([]byte{}, blob...)
	binary.BigEndian.PutUint32(zeroHeaderLen[4:8], 0)
	// snappy の展開後サイズを 4GiB 近くに偽装する
	bigDecoded := forge(t, ArtifactHeader{
		Kind:          "FakeArtifact",
		FormatVersion: FormatVersion,
		Codec:         CodecGobSnappy,
		PayloadBytes:  5,
	}, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F})

	tests := []struct {
		name string
		path string
		into Artifact
	}{
		{"missing file", filepath.Join(dir, "absent.bin"), &fakeArtifact{}},
		{"empty file", write("empty.bin", nil), &fakeArtifact{}},
		{"bad magic", write("magic.bin", badMagic), &fakeArtifact{}},
		{"prefix only", write("prefix.bin", blob[:6]), &fakeArtifact{}},
		{"truncated payload", write("trunc.bin", truncated), &fakeArtifact{}},
		{"corrupt payload", write("corrupt.bin", corrupt), &fakeArtifact{}},
		{"kind mismatch", valid, &otherArtifact{}},
		{"header length too large", write("hlen.bin", hugeHeaderLen), &fakeArtifact{}},
		{"zero header length", write("hlen0.bin", zeroHeaderLen), &fakeArtifact{}},
		{"garbage header", write("json.bin", forgeRaw(t, []byte("{not json"), payload)), &fakeArtifact{}},
		{"huge payload size", write("huge.bin", withSize(9000000000000000000)), &fakeArtifact{}},
		{"payload size past end of file", write("past.bin", withSize(int64(len(payload))+1)), &fakeArtifact{}},
		{"negative payload size", write("neg.bin", withSize(-1)), &fakeArtifact{}},
		{"oversized decoded length", write("decoded.bin", bigDecoded), &fakeArtifact{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore().Load(tt.path, tt.into)
			require.Error(t, err)
			var de *errors.DeserializationError
			assert.True(t, errors.As(err, &de), "want DeserializationError, got %v", err)
			assert.Equal(t, tt.path, de.Path)
		})
	}
}

// forge は任意のヘッダとペイロードから成果物ファイルを組み立てる
func forge(t *testing.T, header ArtifactHeader, payload []byte) []byte {
	t.Helper()
	hb, err := header.ToJSON()
	require.NoError(t, err)
	return forgeRaw(t, hb, payload)
}

func forgeRaw(t *testing.T, hb, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(ArtifactMagic)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(hb))))
	buf.Write(hb)
	buf.Write(payload)
	return buf.Bytes()
}

func TestLoadModelFromReader_BoundsPayload(t *testing.T) {
	blob := forge(t, ArtifactHeader{
		Kind:          "FakeArtifact",
		FormatVersion: FormatVersion,
		Codec:         CodecGobSnappy,
		PayloadBytes:  MaxPayloadBytes + 1,
	}, []byte{0x00})

	err := LoadModelFromReader(&fakeArtifact{}, bytes.NewReader(blob))
	var de *errors.DeserializationError
	require.True(t, errors.As(err, &de), "want DeserializationError, got %v", err)
	assert.Contains(t, err.Error(), "exceeds")

	// ストリームの長さは分からないので、上限内なら読み切れないことで失敗する
	short := forge(t, ArtifactHeader{
		Kind:          "FakeArtifact",
		FormatVersion: FormatVersion,
		Codec:         CodecGobSnappy,
		PayloadBytes:  1 << 20,
	}, []byte{0x00, 0x01})
	err = LoadModelFromReader(&fakeArtifact{}, bytes.NewReader(short))
	require.True(t, errors.As(err, &de))
	assert.Contains(t, err.Error(), "truncated payload")
}

func TestStore_RejectsUnsupportedVersion(t *testing.T) {
	header := ArtifactHeader{
		Kind:          "FakeArtifact",
		FormatVersion: "2.1",
		Codec:         CodecGobSnappy,
	}
	hb, err := header.ToJSON()
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.WriteString(ArtifactMagic)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(hb))))
	buf.Write(hb)

	err = LoadModelFromReader(&fakeArtifact{}, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not satisfy")
}

func TestStore_WriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &fakeArtifact{Name: "stream"}
	require.NoError(t, SaveModelToWriter(in, &buf))
	assert.Equal(t, ArtifactMagic, buf.String()[:4])

	out := &fakeArtifact{}
	require.NoError(t, LoadModelFromReader(out, &buf))
	assert.Equal(t, in.Name, out.Name)
}

func TestArtifactHeader_Validate(t *testing.T) {
	base := ArtifactHeader{Kind: "K", FormatVersion: "1.0", Codec: CodecGobSnappy}

	ok := base
	assert.NoError(t, ok.Validate("K"))
	assert.NoError(t, ok.Validate(""))

	minor := base
	minor.FormatVersion = "1.7.2"
	assert.NoError(t, minor.Validate("K"))

	noKind := base
	noKind.Kind = ""
	assert.Error(t, noKind.Validate(""))

	codec := base
	codec.Codec = "json"
	assert.Error(t, codec.Validate("K"))

	garbage := base
	garbage.FormatVersion = "one"
	assert.Error(t, garbage.Validate("K"))

	old := base
	old.FormatVersion = "0.9"
	assert.Error(t, old.Validate("K"))
}

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	assert.False(t, s.IsFitted())

	err := s.RequireFitted("RandomForestClassifier", "Predict")
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))

	s.MarkFitted(9, 100)
	assert.NoError(t, s.RequireFitted("RandomForestClassifier", "Predict"))
	assert.NoError(t, s.RequireFeatures("Predict", 9))

	var de *errors.DimensionError
	assert.True(t, errors.As(s.RequireFeatures("Predict", 8), &de))

	state := s.Snapshot()
	assert.Equal(t, ModelState{Fitted: true, NFeatures: 9, NSamples: 100}, state)

	s.Reset()
	assert.False(t, s.IsFitted())
	s.Restore(state)
	f, n := s.Dimensions()
	assert.Equal(t, 9, f)
	assert.Equal(t, 100, n)
}
