package analysis

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/internal/util"
	"github.com/teranos/marketpulse/market"
)

// ErrInsufficientData is returned by Train when there are too few bars to fit
var ErrInsufficientData = errors.New("insufficient price history")

// ModelTypeLinearTrend names predictions of LinearTrendModel
const ModelTypeLinearTrend = "linear_trend"

// MinTrainingBars is the fewest closes a model is fitted on
const MinTrainingBars = 30

// DefaultHorizons are the forecast horizons in days
var DefaultHorizons = []int{1, 3, 7}

// LinearTrendModel fits ordinary least squares to the most recent closes
// against their bar index and extrapolates the line.
type LinearTrendModel struct {
	// Window is how many recent closes are fitted. Default: 60.
	Window int

	slope     float64
	intercept float64
	r2        float64
	n         int
	stockID   int64
	trained   bool
}

// NewLinearTrendModel creates an untrained model over the given window
func NewLinearTrendModel(window int) *LinearTrendModel {
	if window < MinTrainingBars {
		window = 60
	}
	return &LinearTrendModel{Window: window}
}

// Train fits the model to prices, oldest first
func (m *LinearTrendModel) Train(prices []market.Price) error {
	if len(prices) < MinTrainingBars {
		return errors.Wrapf(ErrInsufficientData, "%d bars, need %d", len(prices), MinTrainingBars)
	}
	window := m.Window
	if window <= 0 {
		window = 60
	}
	if len(prices) > window {
		prices = prices[len(prices)-window:]
	}

	n := float64(len(prices))
	var sumX, sumY, sumXY, sumXX float64
	ys := make([]float64, len(prices))
	for i, p := range prices {
		x, y := float64(i), p.Close.InexactFloat64()
		ys[i] = y
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return errors.Wrap(ErrInsufficientData, "degenerate series")
	}
	m.slope = (n*sumXY - sumX*sumY) / den
	m.intercept = (sumY - m.slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, y := range ys {
		fit := m.intercept + m.slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	m.r2 = 1
	if ssTot > 0 {
		m.r2 = 1 - ssRes/ssTot
	}

	m.n = len(prices)
	m.stockID = prices[0].StockID
	m.trained = true
	return nil
}

// Fit returns the slope per bar and the coefficient of determination
func (m *LinearTrendModel) Fit() (slope, r2 float64) {
	return m.slope, m.r2
}

// Predict extrapolates one forecast per horizon, made on now. Horizons count
// bars ahead of the last fitted close. Confidence is the fit's R², decayed
// with the horizon.
func (m *LinearTrendModel) Predict(now time.Time, horizons []int) ([]market.Prediction, error) {
	if !m.trained {
		return nil, errors.New("linear trend model is not trained")
	}
	day := now.UTC().Truncate(24 * time.Hour)

	out := make([]market.Prediction, 0, len(horizons))
	for _, h := range horizons {
		if h <= 0 {
			continue
		}
		x := float64(m.n - 1 + h)
		value := math.Max(0, m.intercept+m.slope*x)
		out = append(out, market.Prediction{
			StockID:        m.stockID,
			ModelType:      ModelTypeLinearTrend,
			HorizonDays:    h,
			PredictionDate: day,
			TargetDate:     day.AddDate(0, 0, h),
			PredictedClose: decimal.NewFromFloat(value).Round(4),
			Confidence:     util.ClampFloat64(m.r2/(1+0.1*float64(h-1)), 0, 1),
		})
	}
	return out, nil
}
