// Package metrics は分類モデルの評価指標を提供します。
//
// 正解率・混同行列・クラス別の適合率/再現率/F1（分類レポート）と、
// 二値確率に対する ROC AUC・対数損失を扱います。
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// logLossEps は確率のクリップ幅
const logLossEps = 1e-15

func checkVecs(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "nil vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %v", v))
		}
	}
	return nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred []int) (float64, error) {
	if len(yTrue) == 0 {
		return 0, errors.NewValueError("Accuracy", "empty labels")
	}
	if len(yPred) != len(yTrue) {
		return 0, errors.NewDimensionError("Accuracy", len(yTrue), len(yPred), 0)
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// AUC は二値ラベルと陽性クラスのスコアから ROC AUC を計算する。
// 同点スコアは平均順位で扱う。片方のクラスしか無い場合は 0.5 を返し
// UndefinedMetricWarning を出す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkVecs("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return yScore.AtVec(idx[a]) < yScore.AtVec(idx[b]) })

	// Mann-Whitney U: 同点グループには平均順位を与える
	var rankSumPos float64
	nPos := 0
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(idx[j+1]) == yScore.AtVec(idx[i]) {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue.AtVec(idx[k]) == 1 {
				rankSumPos += avgRank
				nPos++
			}
		}
		i = j + 1
	}
	nNeg := n - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in y_true", 0.5))
		return 0.5, nil
	}
	u := rankSumPos - float64(nPos*(nPos+1))/2
	return u / float64(nPos*nNeg), nil
}

// BinaryLogLoss は二値の対数損失を計算する。確率は [eps, 1-eps] にクリップする
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkVecs("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i < n; i++ {
		p := math.Min(math.Max(yProb.AtVec(i), logLossEps), 1-logLossEps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// ConfusionMatrix は (len(labels), len(labels)) の混同行列を返す。
// 行が正解、列が予測。labels が nil の場合は yTrue と yPred に現れる値の昇順。
// labels に無い値の行は数えない。
func ConfusionMatrix(yTrue, yPred []int, labels []int) (*mat.Dense, error) {
	if len(yTrue) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "empty input")
	}
	if len(yTrue) != len(yPred) {
		return nil, errors.NewDimensionError("ConfusionMatrix", len(yTrue), len(yPred), 0)
	}
	if labels == nil {
		labels = UniqueLabels(yTrue, yPred)
	}
	pos := make(map[int]int, len(labels))
	for k, l := range labels {
		pos[l] = k
	}
	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := range yTrue {
		a, okA := pos[yTrue[i]]
		b, okB := pos[yPred[i]]
		if okA && okB {
			cm.Set(a, b, cm.At(a, b)+1)
		}
	}
	return cm, nil
}

// UniqueLabels は入力に現れるラベルを昇順で返す
func UniqueLabels(ys ...[]int) []int {
	seen := make(map[int]struct{})
	for _, y := range ys {
		for _, v := range y {
			seen[v] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// ClassScore はクラス1つ分の評価値
type ClassScore struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// PrecisionRecallF1 はクラスごとの適合率・再現率・F1・サポートを返す。
// 分母が 0 の指標は 0 とし、UndefinedMetricWarning を出す。
func PrecisionRecallF1(yTrue, yPred []int, labels []int) ([]ClassScore, error) {
	if labels == nil {
		labels = UniqueLabels(yTrue, yPred)
	}
	cm, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}
	k := len(labels)
	out := make([]ClassScore, k)
	for c := 0; c < k; c++ {
		tp := cm.At(c, c)
		var predicted, actual float64
		for j := 0; j < k; j++ {
			predicted += cm.At(j, c)
			actual += cm.At(c, j)
		}
		name := fmt.Sprint(labels[c])
		p := safeRatio(tp, predicted, "precision", name, "no predicted samples")
		r := safeRatio(tp, actual, "recall", name, "no true samples")
		f := 0.0
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		out[c] = ClassScore{Label: name, Precision: p, Recall: r, F1: f, Support: int(actual)}
	}
	return out, nil
}

func safeRatio(num, den float64, metric, label, condition string) float64 {
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(metric, fmt.Sprintf("%s for label %s", condition, label), 0))
		return 0
	}
	return num / den
}

// Report は分類レポート（sklearn の classification_report 相当）
type Report struct {
	Classes     []ClassScore `json:"classes"`
	Accuracy    float64      `json:"accuracy"`
	MacroAvg    ClassScore   `json:"macro_avg"`
	WeightedAvg ClassScore   `json:"weighted_avg"`
	Total       int          `json:"total"`
}

// ClassificationReport は分類レポートを作成する。
// names は labels と同じ順のクラス名（nil ならラベル値を使う）。
func ClassificationReport(yTrue, yPred []int, labels []int, names []string) (*Report, error) {
	if labels == nil {
		labels = UniqueLabels(yTrue, yPred)
	}
	if names != nil && len(names) != len(labels) {
		return nil, errors.NewDimensionError("ClassificationReport", len(labels), len(names), 0)
	}
	scores, err := PrecisionRecallF1(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}
	for c := range scores {
		if names != nil {
			scores[c].Label = names[c]
		}
	}

	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		Classes:     scores,
		Accuracy:    acc,
		MacroAvg:    ClassScore{Label: "macro avg"},
		WeightedAvg: ClassScore{Label: "weighted avg"},
	}
	for _, s := range scores {
		rep.Total += s.Support
	}
	k := float64(len(scores))
	for _, s := range scores {
		rep.MacroAvg.Precision += s.Precision / k
		rep.MacroAvg.Recall += s.Recall / k
		rep.MacroAvg.F1 += s.F1 / k
		if rep.Total > 0 {
			w := float64(s.Support) / float64(rep.Total)
			rep.WeightedAvg.Precision += s.Precision * w
			rep.WeightedAvg.Recall += s.Recall * w
			rep.WeightedAvg.F1 += s.F1 * w
		}
	}
	rep.MacroAvg.Support = rep.Total
	rep.WeightedAvg.Support = rep.Total
	return rep, nil
}

// String は sklearn と同じ体裁のテキストを返す
func (r *Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		if len(c.Label) > width {
			width = len(c.Label)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	for _, avg := range []ClassScore{r.MacroAvg, r.WeightedAvg} {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, avg.Label, avg.Precision, avg.Recall, avg.F1, avg.Support)
	}
	return b.String()
}
