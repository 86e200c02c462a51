package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeFilter(t *testing.T) {
	f := NewCodeFilter(1000, 0.001)

	f.Add("abc123")
	assert.True(t, f.MayExist("abc123"))
	assert.False(t, f.MayExist("never-issued"))
}

func TestCodeFilterRebuild(t *testing.T) {
	f := NewCodeFilter(100, 0.001)
	f.Add("old")

	codes := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		codes = append(codes, fmt.Sprintf("code-%d", i))
	}
	f.Rebuild(codes)

	assert.False(t, f.MayExist("old"))
	for _, code := range codes {
		assert.True(t, f.MayExist(code))
	}
}

func TestNilCodeFilterAdmitsEverything(t *testing.T) {
	var f *CodeFilter
	f.Add("x")
	f.Rebuild([]string{"y"})
	assert.True(t, f.MayExist("anything"))
}
