package splicing

import (
	"math"
	"sort"
	"sync"

	"github.com/n0madic/go-bestsubset/dataset"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Linear is the reference splicing engine for Gaussian responses with one or
// more columns. The loss is
//
//	‖W^½(Y − 1cᵀ − XB)‖² / 2n + λ‖B‖²
//
// and the support is a set of predictor groups.
type Linear struct {
	maxIter     int     // maximum splicing rounds per fit
	exchangeNum int     // largest number of groups swapped in one round
	tau         float64 // minimum loss decrease to accept a swap, <0 = automatic
	always      []int   // groups forced into every active set

	pool sync.Pool // *[]float64 scratch of length n*m
}

// Option configures a Linear engine.
type Option func(*Linear)

// WithMaxIter sets the maximum number of splicing rounds.
func WithMaxIter(n int) Option {
	return func(l *Linear) {
		l.maxIter = n
	}
}

// WithExchangeNum sets the largest number of groups exchanged in one round.
func WithExchangeNum(n int) Option {
	return func(l *Linear) {
		l.exchangeNum = n
	}
}

// WithTau sets the loss decrease a swap must achieve to be accepted.
// A negative value selects 0.01·s·log(G)·log(log(n))/n.
func WithTau(tau float64) Option {
	return func(l *Linear) {
		l.tau = tau
	}
}

// WithAlwaysSelect forces the given groups into every active set.
func WithAlwaysSelect(groups ...int) Option {
	return func(l *Linear) {
		l.always = append([]int(nil), groups...)
	}
}

// NewLinear creates a Gaussian splicing engine.
func NewLinear(options ...Option) *Linear {
	l := &Linear{
		maxIter:     20,
		exchangeNum: 5,
		tau:         -1,
	}
	for _, opt := range options {
		opt(l)
	}
	if l.maxIter < 1 {
		l.maxIter = 1
	}
	if l.exchangeNum < 1 {
		l.exchangeNum = 1
	}
	return l
}

// LinearFactory returns a Factory producing identically configured engines.
func LinearFactory(options ...Option) Factory {
	return func() Engine {
		return NewLinear(options...)
	}
}

// AlwaysSelect returns the groups forced into every active set.
func (l *Linear) AlwaysSelect() []int {
	return append([]int(nil), l.always...)
}

// fitState is a solved model on one active set.
type fitState struct {
	active    []int
	coef      *mat.Dense // p x m
	intercept []float64
	resid     *mat.Dense // n x m
	loss      float64
	df        float64
}

// Fit implements Engine.
func (l *Linear) Fit(c *Cache, req FitRequest) FitResponse {
	d := c.Data
	groups := d.Groups()
	always := l.alwaysSet(groups)

	s := req.SupportSize
	if s > groups {
		s = groups
	}
	if s < len(always) {
		s = len(always)
	}

	var active []int
	if validActive(req.Active, s, groups, always) {
		active = append([]int(nil), req.Active...)
		sort.Ints(active)
	} else {
		bd := req.BoundaryDiff
		if len(bd) != groups {
			bd = l.initialSacrifice(c, req)
		}
		active = pickActive(bd, always, s)
	}

	st := l.solve(c, active, req.Lambda)
	tau := l.threshold(d.N(), groups, s)

	resp := FitResponse{}
	for resp.Iterations < l.maxIter {
		resp.Iterations++
		bd := l.sacrifice(c, st, req.Lambda)
		next, improved := l.splice(c, st, bd, always, req.Lambda, tau)
		if !improved {
			resp.Converged = true
			break
		}
		st = next
	}

	resp.Coef = st.coef
	resp.Intercept = st.intercept
	resp.BoundaryDiff = l.sacrifice(c, st, req.Lambda)
	resp.Active = st.active
	resp.TrainLoss = st.loss
	resp.EffectiveDF = st.df
	return resp
}

// Restrict returns an engine with the same settings for data reduced to the
// listed groups. Forced groups are renumbered to their position in groups
// and dropped when absent.
func (l *Linear) Restrict(groups []int) Engine {
	pos := make(map[int]int, len(groups))
	for i, g := range groups {
		pos[g] = i
	}
	var always []int
	for _, g := range l.always {
		if i, ok := pos[g]; ok {
			always = append(always, i)
		}
	}
	return &Linear{
		maxIter:     l.maxIter,
		exchangeNum: l.exchangeNum,
		tau:         l.tau,
		always:      always,
	}
}

// MarginalScores returns the forward sacrifice of every group against the
// intercept-only model. Larger means more useful.
func (l *Linear) MarginalScores(c *Cache) []float64 {
	return l.initialSacrifice(c, FitRequest{})
}

func (l *Linear) alwaysSet(groups int) []int {
	seen := make(map[int]bool, len(l.always))
	out := make([]int, 0, len(l.always))
	for _, g := range l.always {
		if g >= 0 && g < groups && !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Ints(out)
	return out
}

func (l *Linear) threshold(n, groups, s int) float64 {
	if l.tau >= 0 {
		return l.tau
	}
	if n < 3 || groups < 2 {
		return 0
	}
	tau := 0.01 * float64(s) * math.Log(float64(groups)) * math.Log(math.Log(float64(n))) / float64(n)
	return math.Max(tau, 0)
}

func validActive(active []int, s, groups int, always []int) bool {
	if len(active) != s || s == 0 {
		return false
	}
	seen := make(map[int]bool, len(active))
	for _, g := range active {
		if g < 0 || g >= groups || seen[g] {
			return false
		}
		seen[g] = true
	}
	for _, g := range always {
		if !seen[g] {
			return false
		}
	}
	return true
}

// pickActive returns always plus the s-len(always) other groups with the
// largest boundary difference. NaN ranks last, ties keep the lower index.
func pickActive(bd []float64, always []int, s int) []int {
	forced := make(map[int]bool, len(always))
	for _, g := range always {
		forced[g] = true
	}
	rest := make([]int, 0, len(bd))
	for g := range bd {
		if !forced[g] {
			rest = append(rest, g)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rankAbove(bd[rest[i]], bd[rest[j]])
	})

	active := append([]int(nil), always...)
	active = append(active, rest[:s-len(always)]...)
	sort.Ints(active)
	return active
}

// rankAbove orders by decreasing value with NaN last.
func rankAbove(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a > b
}

func (l *Linear) withIntercept(d *dataset.Data) bool {
	return d.Variant != dataset.InterceptNone
}

// solve fits the penalized least squares problem restricted to active.
func (l *Linear) solve(c *Cache, active []int, lambda float64) fitState {
	d := c.Data
	n, p, m := d.N(), d.P(), d.M()

	st := fitState{
		active:    active,
		coef:      mat.NewDense(p, m, nil),
		intercept: make([]float64, m),
	}

	col := make([]float64, n)
	yMean := make([]float64, m)
	if l.withIntercept(d) {
		for k := 0; k < m; k++ {
			mat.Col(col, k, d.Y)
			yMean[k] = stat.Mean(col, d.Weights)
		}
	}

	var cols []int
	for _, g := range active {
		first, size := d.Columns(g)
		for j := first; j < first+size; j++ {
			cols = append(cols, j)
		}
	}

	copy(st.intercept, yMean)
	if q := len(cols); q > 0 {
		xMean := make([]float64, q)
		xs := mat.NewDense(n, q, nil)
		for k, j := range cols {
			mat.Col(col, j, d.X)
			if l.withIntercept(d) {
				xMean[k] = stat.Mean(col, d.Weights)
				floats.AddConst(-xMean[k], col)
			}
			xs.SetCol(k, col)
		}
		ys := mat.DenseCopyOf(d.Y)
		for i := 0; i < n; i++ {
			row := ys.RawRowView(i)
			floats.Sub(row, yMean)
		}
		xs = weightedRows(xs, d.Weights, true)
		ys = weightedRows(ys, d.Weights, true)

		h := mat.NewSymDense(q, nil)
		h.SymOuterK(1, xs.T())
		hp := mat.NewSymDense(q, nil)
		hp.CopySym(h)
		pen := 2 * float64(n) * lambda
		for k := 0; k < q; k++ {
			hp.SetSym(k, k, hp.At(k, k)+pen)
		}

		var rhs mat.Dense
		rhs.Mul(xs.T(), ys)
		if b, ok := solveSPD(hp, &rhs); ok {
			for k, j := range cols {
				st.coef.SetRow(j, b.RawRowView(k))
			}
			for k := 0; k < m; k++ {
				for kk := range cols {
					st.intercept[k] -= xMean[kk] * b.At(kk, k)
				}
			}
		}

		st.df = float64(q * m)
		if lambda != 0 {
			if hat, ok := solveSPD(hp, h); ok {
				st.df = mat.Trace(hat) * float64(m)
			}
		}
	}

	st.resid, st.loss = l.residual(c, st.coef, st.intercept, lambda)
	return st
}

// residual returns Y − 1cᵀ − XB and the penalized loss.
func (l *Linear) residual(c *Cache, coef *mat.Dense, intercept []float64, lambda float64) (*mat.Dense, float64) {
	d := c.Data
	n := d.N()

	resid := mat.NewDense(n, d.M(), nil)
	resid.Mul(d.X, coef)
	resid.Sub(d.Y, resid)

	loss := 0.0
	for i := 0; i < n; i++ {
		row := resid.RawRowView(i)
		floats.Sub(row, intercept)
		loss += d.Weights[i] * floats.Dot(row, row)
	}
	loss /= 2 * float64(n)
	if lambda != 0 {
		norm := mat.Norm(coef, 2)
		loss += lambda * norm * norm
	}
	return resid, loss
}

// sacrifice computes the boundary difference of every group: the loss
// increase from dropping an active group, or the loss decrease from adding
// an inactive one.
func (l *Linear) sacrifice(c *Cache, st fitState, lambda float64) []float64 {
	d := c.Data
	n, m := d.N(), d.M()
	nf := float64(n)

	isActive := make(map[int]bool, len(st.active))
	for _, g := range st.active {
		isActive[g] = true
	}

	buf := l.scratch(n * m)
	defer l.release(buf)
	wr := mat.NewDense(n, m, *buf)
	wr.Copy(st.resid)
	for i := 0; i < n; i++ {
		floats.Scale(d.Weights[i], wr.RawRowView(i))
	}

	bd := make([]float64, d.Groups())
	for g := range bd {
		first, size := d.Columns(g)
		gs := scaledGram(c.Gram[g], nf, lambda)
		if isActive[g] {
			b := mat.DenseCopyOf(st.coef.Slice(first, first+size, 0, m))
			bd[g] = quadForm(gs, b)
			continue
		}
		var dg mat.Dense
		dg.Mul(d.X.Slice(0, n, first, first+size).T(), wr)
		dg.Scale(1/nf, &dg)
		bd[g] = quadInverse(gs, &dg)
	}
	return bd
}

// initialSacrifice ranks groups before the first solve. With no usable warm
// start it scores every group against the intercept-only model, reading the
// cached covariance terms when they exist.
func (l *Linear) initialSacrifice(c *Cache, req FitRequest) []float64 {
	d := c.Data
	p, m := d.P(), d.M()

	if req.Coef != nil && !isZero(req.Coef) {
		var active []int
		for g := 0; g < d.Groups(); g++ {
			first, size := d.Columns(g)
			if !isZero(mat.DenseCopyOf(req.Coef.Slice(first, first+size, 0, m))) {
				active = append(active, g)
			}
		}
		intercept := req.Intercept
		if len(intercept) != m {
			intercept = make([]float64, m)
		}
		coef := mat.DenseCopyOf(req.Coef)
		resid, loss := l.residual(c, coef, intercept, req.Lambda)
		return l.sacrifice(c, fitState{
			active:    active,
			coef:      coef,
			intercept: append([]float64(nil), intercept...),
			resid:     resid,
			loss:      loss,
		}, req.Lambda)
	}

	if c.XTY == nil {
		return l.sacrifice(c, l.solve(c, nil, req.Lambda), req.Lambda)
	}

	// Xᵀ W (Y − 1cᵀ) = XᵀWY − XᵀW1·cᵀ
	intercept := make([]float64, m)
	if l.withIntercept(d) {
		col := make([]float64, d.N())
		for k := 0; k < m; k++ {
			mat.Col(col, k, d.Y)
			intercept[k] = stat.Mean(col, d.Weights)
		}
	}
	grad := mat.NewDense(p, m, nil)
	grad.Outer(1, mat.NewVecDense(p, append([]float64(nil), c.XTOne...)), mat.NewVecDense(m, intercept))
	grad.Sub(c.XTY, grad)
	nf := float64(d.N())
	grad.Scale(1/nf, grad)

	bd := make([]float64, d.Groups())
	for g := range bd {
		first, size := d.Columns(g)
		dg := mat.DenseCopyOf(grad.Slice(first, first+size, 0, m))
		bd[g] = quadInverse(scaledGram(c.Gram[g], nf, req.Lambda), dg)
	}
	return bd
}

// splice tries exchanges of decreasing size and returns the first one that
// lowers the loss by more than tau.
func (l *Linear) splice(c *Cache, st fitState, bd []float64, always []int, lambda, tau float64) (fitState, bool) {
	forced := make(map[int]bool, len(always))
	for _, g := range always {
		forced[g] = true
	}
	isActive := make(map[int]bool, len(st.active))
	var free []int
	for _, g := range st.active {
		isActive[g] = true
		if !forced[g] {
			free = append(free, g)
		}
	}
	var inactive []int
	for g := range bd {
		if !isActive[g] {
			inactive = append(inactive, g)
		}
	}

	// least useful active groups first, most useful inactive groups first
	sort.SliceStable(free, func(i, j int) bool { return rankAbove(bd[free[j]], bd[free[i]]) })
	sort.SliceStable(inactive, func(i, j int) bool { return rankAbove(bd[inactive[i]], bd[inactive[j]]) })

	kmax := min(l.exchangeNum, len(free), len(inactive))
	for k := kmax; k >= 1; k-- {
		drop := make(map[int]bool, k)
		for _, g := range free[:k] {
			drop[g] = true
		}
		candidate := make([]int, 0, len(st.active))
		for _, g := range st.active {
			if !drop[g] {
				candidate = append(candidate, g)
			}
		}
		candidate = append(candidate, inactive[:k]...)
		sort.Ints(candidate)

		next := l.solve(c, candidate, lambda)
		if next.loss < st.loss-tau {
			return next, true
		}
	}
	return st, false
}

func scaledGram(g *mat.SymDense, n, lambda float64) *mat.SymDense {
	size := g.SymmetricDim()
	out := mat.NewSymDense(size, nil)
	out.ScaleSym(1/n, g)
	for i := 0; i < size; i++ {
		out.SetSym(i, i, out.At(i, i)+2*lambda)
	}
	return out
}

func isZero(a *mat.Dense) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if a.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

func (l *Linear) scratch(size int) *[]float64 {
	if v := l.pool.Get(); v != nil {
		if buf := v.(*[]float64); cap(*buf) >= size {
			*buf = (*buf)[:size]
			return buf
		}
	}
	buf := make([]float64, size)
	return &buf
}

func (l *Linear) release(buf *[]float64) {
	l.pool.Put(buf)
}
