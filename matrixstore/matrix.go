package matrixstore

// Matrix is a dense row-major float64 matrix. Rows are organisations (or
// groups of them) and columns are months.
type Matrix struct {
	rows, cols int
	data       []float64
}

func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

func (m *Matrix) Rows() int { return m.rows }
func (m *Matrix) Cols() int { return m.cols }

func (m *Matrix) At(row, col int) float64 {
	return m.data[row*m.cols+col]
}

func (m *Matrix) Set(row, col int, v float64) {
	m.data[row*m.cols+col] = v
}

// Row returns a view of one row. Writes through it modify the matrix.
func (m *Matrix) Row(row int) []float64 {
	return m.data[row*m.cols : (row+1)*m.cols]
}

// Sum returns the sum of every cell.
func (m *Matrix) Sum() float64 {
	var total float64
	for _, v := range m.data {
		total += v
	}
	return total
}

// Map replaces every cell with fn(cell) in place.
func (m *Matrix) Map(fn func(float64) float64) {
	for i, v := range m.data {
		m.data[i] = fn(v)
	}
}

// addBlock adds a block laid out like m (rows*cols values) into m.
func (m *Matrix) addBlock(block []float64) {
	for i, v := range block {
		m.data[i] += v
	}
}

func addInto(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}
