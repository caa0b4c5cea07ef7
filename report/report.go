// Package report は学習結果の診断画像を gonum/plot で描画します。
//
// 混同行列のヒートマップ（セルに件数を表示）と、特徴量ごとの平均 |SHAP| を
// 大きい順に並べた横棒グラフを扱います。出力形式はファイル拡張子で決まります。
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// 画像サイズ
var (
	ImageWidth  = 6 * vg.Inch
	ImageHeight = 5 * vg.Inch
)

// cmGrid は混同行列を plotter.GridXYZ として見せる。
// 先頭クラスが上に来るよう行を反転する。
type cmGrid struct {
	cm *mat.Dense
}

func (g cmGrid) Dims() (c, r int) {
	r, c = g.cm.Dims()
	return c, r
}

func (g cmGrid) Z(c, r int) float64 {
	n, _ := g.cm.Dims()
	return g.cm.At(n-1-r, c)
}

func (g cmGrid) X(c int) float64 { return float64(c) }
func (g cmGrid) Y(r int) float64 { return float64(r) }

// SaveConfusionMatrix は混同行列のヒートマップを path に保存する。
// 行が正解ラベル、列が予測ラベル。
func SaveConfusionMatrix(cm *mat.Dense, classNames []string, path string) error {
	rows, cols := cm.Dims()
	if rows == 0 || rows != cols {
		return errors.NewValueError("SaveConfusionMatrix", fmt.Sprintf("confusion matrix must be square, got %dx%d", rows, cols))
	}
	if len(classNames) != rows {
		return errors.NewDimensionError("SaveConfusionMatrix", rows, len(classNames), 0)
	}

	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"

	hm := plotter.NewHeatMap(cmGrid{cm: cm}, palette.Heat(12, 1))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	var xys plotter.XYs
	var labels []string
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(rows - 1 - r)})
			labels = append(labels, fmt.Sprintf("%.0f", cm.At(r, c)))
		}
	}
	counts, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return errors.Wrap(err, "failed to create cell labels")
	}
	p.Add(counts)

	yNames := make([]string, rows)
	for r := range yNames {
		yNames[r] = classNames[rows-1-r]
	}
	p.NominalX(classNames...)
	p.NominalY(yNames...)

	return save(p, path)
}

// SaveSHAPSummary は平均 |SHAP| の横棒グラフを保存する。
// maxFeatures > 0 の場合は上位のみ描く。
func SaveSHAPSummary(featureNames []string, meanAbs []float64, path string, maxFeatures int) error {
	if len(featureNames) != len(meanAbs) {
		return errors.NewDimensionError("SaveSHAPSummary", len(meanAbs), len(featureNames), 0)
	}
	if len(meanAbs) == 0 {
		return errors.NewValueError("SaveSHAPSummary", "no features")
	}

	order := make([]int, len(meanAbs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return meanAbs[order[a]] > meanAbs[order[b]] })
	if maxFeatures > 0 && maxFeatures < len(order) {
		order = order[:maxFeatures]
	}

	// 棒は下から積まれるので、最大のものが上に来るよう逆順にする
	values := make(plotter.Values, len(order))
	names := make([]string, len(order))
	for k, j := range order {
		values[len(order)-1-k] = meanAbs[j]
		names[len(order)-1-k] = featureNames[j]
	}

	p := plot.New()
	p.Title.Text = "SHAP Feature Importance"
	p.X.Label.Text = "mean(|SHAP value|)"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return errors.Wrap(err, "failed to create bar chart")
	}
	bars.Horizontal = true
	bars.Color = palette.Heat(2, 1).Colors()[0]
	p.Add(bars)
	p.NominalY(names...)

	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := p.Save(ImageWidth, ImageHeight, path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}
