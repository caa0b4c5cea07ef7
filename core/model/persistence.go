package model

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

const (
	// ヘッダ長の上限
	maxHeaderBytes = 1 << 16

	// MaxPayloadBytes は圧縮前後どちらのペイロードにも課す上限
	MaxPayloadBytes = 1 << 30

	prefixBytes = 8
)

// Store は成果物をディスクに保存・読み込みする Object Store
//
// ファイル形式:
//
//	"FRSK" | uint32(BE) ヘッダ長 | JSONヘッダ | snappy(gob(artifact))
type Store struct {
	logger log.Logger
	now    func() time.Time
}

// StoreOption は Store の設定関数
type StoreOption func(*Store)

// WithStoreLogger は保存・読み込みのログ出力先を設定する
func WithStoreLogger(logger log.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock はヘッダの created_at に使う時計を差し替える（テスト用）
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore は新しい Store を作成する
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger: log.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save は成果物を path に保存する。親ディレクトリが無ければ作成し、
// 同じディレクトリの一時ファイルに書いてから rename する。
func (s *Store) Save(path string, artifact Artifact) (err error) {
	defer errors.Recover(&err, "Store.Save")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := s.write(tmp, artifact)
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to sync artifact")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close artifact")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to move artifact into %s", path)
	}

	s.logger.Info("Artifact saved",
		log.ModelNameKey, artifact.ArtifactKind(),
		log.PathKey, path,
		log.DataSizeKey, n,
		"size", humanize.Bytes(uint64(n)),
	)
	return nil
}

// Load は path の成果物を into に読み込む。ファイルが無い・壊れている・
// 種類やバージョンが合わない場合は DeserializationError を返す。
func (s *Store) Load(path string, into Artifact) (header *ArtifactHeader, err error) {
	defer errors.RecoverAs(&err, "Store.Load", func(e error) error {
		return errors.NewDeserializationError(path, e)
	})

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewDeserializationError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewDeserializationError(path, err)
	}

	header, err = s.read(bufio.NewReader(f), into, info.Size())
	if err != nil {
		return nil, errors.NewDeserializationError(path, err)
	}

	s.logger.Info("Artifact loaded",
		log.ModelNameKey, header.Kind,
		log.PathKey, path,
		"format_version", header.FormatVersion,
		"created_at", header.CreatedAt,
		"size", humanize.Bytes(uint64(header.PayloadBytes)),
	)
	return header, nil
}

func (s *Store) write(w io.Writer, artifact Artifact) (int64, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(artifact); err != nil {
		return 0, errors.Wrap(err, "failed to encode model")
	}
	payload := snappy.Encode(nil, raw.Bytes())

	header := ArtifactHeader{
		Kind:          artifact.ArtifactKind(),
		FormatVersion: FormatVersion,
		Codec:         CodecGobSnappy,
		CreatedAt:     s.now().UTC(),
		PayloadBytes:  int64(len(payload)),
	}
	hb, err := header.ToJSON()
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode header")
	}

	var prefix [prefixBytes]byte
	copy(prefix[:4], ArtifactMagic)
	binary.BigEndian.PutUint32(prefix[4:], uint32(len(hb)))

	var total int64
	for _, chunk := range [][]byte{prefix[:], hb, payload} {
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, errors.Wrap(err, "failed to write artifact")
		}
	}
	return total, nil
}

// read は成果物を1つ読む。total が正ならストリーム全体のバイト数として
// ペイロード長の検証に使う。
func (s *Store) read(r io.Reader, into Artifact, total int64) (*ArtifactHeader, error) {
	var prefix [prefixBytes]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("truncated artifact prefix: %w", err)
	}
	if string(prefix[:4]) != ArtifactMagic {
		return nil, fmt.Errorf("bad magic %q", prefix[:4])
	}
	hlen := binary.BigEndian.Uint32(prefix[4:])
	if hlen == 0 || hlen > maxHeaderBytes {
		return nil, fmt.Errorf("invalid header length %d", hlen)
	}

	hb := make([]byte, hlen)
	if _, err := io.ReadFull(r, hb); err != nil {
		return nil, fmt.Errorf("truncated header: %w", err)
	}
	var header ArtifactHeader
	if err := header.FromJSON(hb); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}
	if err := header.Validate(into.ArtifactKind()); err != nil {
		return nil, err
	}

	limit := int64(MaxPayloadBytes)
	if total > 0 {
		remaining := total - prefixBytes - int64(hlen)
		if remaining < limit {
			limit = remaining
		}
	}
	if header.PayloadBytes > limit {
		return nil, fmt.Errorf("payload size %d exceeds available %d bytes", header.PayloadBytes, limit)
	}

	payload, err := io.ReadAll(io.LimitReader(r, header.PayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if int64(len(payload)) != header.PayloadBytes {
		return nil, fmt.Errorf("truncated payload: got %d of %d bytes", len(payload), header.PayloadBytes)
	}

	n, err := snappy.DecodedLen(payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt payload: %w", err)
	}
	if n > MaxPayloadBytes {
		return nil, fmt.Errorf("decoded payload size %d exceeds %d", n, MaxPayloadBytes)
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt payload: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(into); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return &header, nil
}

// SaveModel はモデルをファイルに保存する
//
// 使用例:
//
//	err := model.SaveModel(forest, "artifacts/random_forest_model.bin")
func SaveModel(artifact Artifact, filename string) error {
	return NewStore().Save(filename, artifact)
}

// LoadModel はファイルからモデルを読み込む
//
// 使用例:
//
//	forest := ensemble.NewRandomForestClassifier()
//	err := model.LoadModel(forest, "artifacts/random_forest_model.bin")
func LoadModel(artifact Artifact, filename string) error {
	_, err := NewStore().Load(filename, artifact)
	return err
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(artifact Artifact, w io.Writer) error {
	_, err := NewStore().write(w, artifact)
	return err
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(artifact Artifact, r io.Reader) (err error) {
	defer errors.RecoverAs(&err, "LoadModelFromReader", func(e error) error {
		return errors.NewDeserializationError("<reader>", e)
	})
	if _, err = NewStore().read(r, artifact, 0); err != nil {
		return errors.NewDeserializationError("<reader>", err)
	}
	return nil
}
