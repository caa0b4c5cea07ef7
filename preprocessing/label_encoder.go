package preprocessing

import (
	"sort"
	"strconv"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// LabelEncoder はクラスラベル文字列と 0..K-1 のクラス番号を相互変換する
// クラス番号はラベルの辞書順
type LabelEncoder struct {
	model.StateManager

	// ClassLabels は学習済みのラベル（昇順）
	ClassLabels []string
}

// NewLabelEncoder は新しいLabelEncoderを作成する
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// Fit はラベルの一覧を学習する
func (l *LabelEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	seen := make(map[string]struct{})
	for _, v := range labels {
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)

	l.ClassLabels = classes
	l.MarkFitted(1, len(labels))
	return nil
}

// Transform はラベルをクラス番号に変換する。未知のラベルはエラー
func (l *LabelEncoder) Transform(labels []string) ([]int, error) {
	if err := l.RequireFitted("LabelEncoder", "Transform"); err != nil {
		return nil, err
	}
	out := make([]int, len(labels))
	for i, v := range labels {
		k := sort.SearchStrings(l.ClassLabels, v)
		if k == len(l.ClassLabels) || l.ClassLabels[k] != v {
			return nil, errors.NewValueError("LabelEncoder.Transform", "y contains previously unseen label '"+v+"'")
		}
		out[i] = k
	}
	return out, nil
}

// FitTransform はFitとTransformを同時に実行する
func (l *LabelEncoder) FitTransform(labels []string) ([]int, error) {
	if err := l.Fit(labels); err != nil {
		return nil, err
	}
	return l.Transform(labels)
}

// InverseTransform はクラス番号をラベルに戻す
func (l *LabelEncoder) InverseTransform(codes []int) ([]string, error) {
	if err := l.RequireFitted("LabelEncoder", "InverseTransform"); err != nil {
		return nil, err
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		if c < 0 || c >= len(l.ClassLabels) {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform", "class index "+strconv.Itoa(c)+" out of range")
		}
		out[i] = l.ClassLabels[c]
	}
	return out, nil
}

// NClasses はクラス数を返す
func (l *LabelEncoder) NClasses() int { return len(l.ClassLabels) }

func itoa(i int) string { return strconv.Itoa(i) }
