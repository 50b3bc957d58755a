package model

import (
	"fmt"
	"strings"
)

// ClassMetrics holds per-class evaluation numbers.
type ClassMetrics struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report summarizes classifier quality over a labeled evaluation set.
type Report struct {
	Classes  []ClassMetrics
	Accuracy float64
	MacroF1  float64
	Total    int
}

// Evaluate computes precision, recall, and F1 per class from parallel
// true/predicted class-index slices.
func Evaluate(yTrue, yPred []int, classNames []string) (Report, error) {
	if len(yTrue) != len(yPred) {
		return Report{}, fmt.Errorf("model: evaluate: %d true labels vs %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Report{}, fmt.Errorf("model: evaluate: empty label set")
	}

	n := len(classNames)
	tp := make([]int, n)
	fp := make([]int, n)
	fn := make([]int, n)
	correct := 0

	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= n || p < 0 || p >= n {
			return Report{}, fmt.Errorf("model: evaluate: class index out of range at sample %d", i)
		}
		if t == p {
			tp[t]++
			correct++
		} else {
			fp[p]++
			fn[t]++
		}
	}

	report := Report{Total: len(yTrue), Accuracy: float64(correct) / float64(len(yTrue))}
	var macroF1 float64
	for c, name := range classNames {
		m := ClassMetrics{Label: name, Support: tp[c] + fn[c]}
		if tp[c]+fp[c] > 0 {
			m.Precision = float64(tp[c]) / float64(tp[c]+fp[c])
		}
		if tp[c]+fn[c] > 0 {
			m.Recall = float64(tp[c]) / float64(tp[c]+fn[c])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		macroF1 += m.F1
		report.Classes = append(report.Classes, m)
	}
	report.MacroF1 = macroF1 / float64(n)
	return report, nil
}

// String renders the report as an aligned text table.
func (r Report) String() string {
	var b strings.Builder
	width := 12
	for _, c := range r.Classes {
		if len(c.Label) > width {
			width = len(c.Label)
		}
	}
	fmt.Fprintf(&b, "%-*s  %9s  %9s  %9s  %8s\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%-*s  %9.3f  %9.3f  %9.3f  %8d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "\n%-*s  %9s  %9s  %9.3f  %8d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	fmt.Fprintf(&b, "%-*s  %9s  %9s  %9.3f  %8d\n", width, "macro f1", "", "", r.MacroF1, r.Total)
	return b.String()
}
