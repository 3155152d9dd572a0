package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimate_NoDecimation(t *testing.T) {
	values := []float32{0.1, 0.2, 0.3, 0.4, 0.5}

	result := Decimate(nil, values, 10)
	require.Len(t, result, 5)
	assert.Equal(t, values, result)

	dst := make([]float32, 0, 10)
	result = Decimate(dst, values, 10)
	require.Len(t, result, 5)
	assert.Equal(t, values, result)
	assert.Equal(t, cap(dst), cap(result))
}

func TestDecimate_WithDecimation(t *testing.T) {
	values := make([]float32, 100)
	for i := range values {
		values[i] = float32(i) * 0.01
	}

	dst := make([]float32, 0, 20)
	result := Decimate(dst, values, 10)
	require.Len(t, result, 10)

	assert.Equal(t, values[0], result[0])
	assert.Equal(t, values[90], result[9])
	assert.Equal(t, 20, cap(result))
}

func TestDecimate_DestinationReuse(t *testing.T) {
	dst := make([]float32, 0, 10)
	first := Decimate(dst, []float32{1, 2}, 10)
	require.Len(t, first, 2)

	second := Decimate(first, []float32{3, 4, 5}, 10)
	require.Len(t, second, 3)
	assert.Equal(t, cap(first), cap(second))
	assert.Equal(t, []float32{3, 4, 5}, second)
}

func TestDecimate_EmptyInput(t *testing.T) {
	assert.Empty(t, Decimate(nil, []float32{}, 10))
}

func TestDecimate_ExactMaxPoints(t *testing.T) {
	values := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, values, Decimate(nil, values, 10))
}

func TestDecimate_NonPositiveMaxPoints(t *testing.T) {
	values := []int{1, 2, 3}
	assert.Equal(t, values, Decimate(nil, values, 0))
}
