package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-version"
)

const (
	// ArtifactMagic は成果物ファイル先頭の4バイト
	ArtifactMagic = "FRSK"

	// FormatVersion は現在書き出すフォーマットのバージョン
	FormatVersion = "1.0"

	// CodecGobSnappy はペイロードのエンコード方式（gob を snappy で圧縮）
	CodecGobSnappy = "gob+snappy"

	// SupportedFormats は読み込み可能なフォーマットバージョンの制約
	SupportedFormats = ">= 1.0, < 2.0"
)

// ArtifactHeader は成果物ファイルのJSONヘッダ
type ArtifactHeader struct {
	// Kind は成果物の種類（ColumnTransformer, ImbPipeline 等）
	Kind string `json:"kind"`

	// FormatVersion はフォーマットのバージョン（互換性チェック用）
	FormatVersion string `json:"format_version"`

	// Codec はペイロードのエンコード方式
	Codec string `json:"codec"`

	// CreatedAt は書き出し時刻（UTC）
	CreatedAt time.Time `json:"created_at"`

	// PayloadBytes は圧縮後ペイロードのバイト数
	PayloadBytes int64 `json:"payload_bytes"`
}

// ToJSON はヘッダをJSON形式にシリアライズ
func (h *ArtifactHeader) ToJSON() ([]byte, error) {
	return json.Marshal(h)
}

// FromJSON はJSON形式からヘッダをデシリアライズ
func (h *ArtifactHeader) FromJSON(data []byte) error {
	return json.Unmarshal(data, h)
}

// Validate はヘッダの妥当性を検証する。wantKind が空でなければ種類も照合する
func (h *ArtifactHeader) Validate(wantKind string) error {
	if h.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if wantKind != "" && h.Kind != wantKind {
		return fmt.Errorf("artifact kind mismatch: file holds %q, expected %q", h.Kind, wantKind)
	}
	if h.Codec != CodecGobSnappy {
		return fmt.Errorf("unsupported codec %q", h.Codec)
	}
	if h.PayloadBytes < 0 {
		return fmt.Errorf("negative payload size %d", h.PayloadBytes)
	}

	v, err := version.NewVersion(h.FormatVersion)
	if err != nil {
		return fmt.Errorf("invalid format_version %q: %w", h.FormatVersion, err)
	}
	constraints, err := version.NewConstraint(SupportedFormats)
	if err != nil {
		return err
	}
	if !constraints.Check(v) {
		return fmt.Errorf("format_version %s does not satisfy %s", v, SupportedFormats)
	}
	return nil
}
