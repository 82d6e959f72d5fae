package gcode

import (
	"testing"

	"github.com/mastercactapus/glaser/coord"
	"github.com/stretchr/testify/assert"
)

func TestVM_Run(t *testing.T) {
	vm := NewVM()

	st := vm.Run(MustParse("G0 X10 Y5")[0])
	assert.Equal(t, MotionRapid, st.Motion)
	assert.Equal(t, coord.Point{X: 10, Y: 5}, st.To)

	// modal motion
	st = vm.Run(MustParse("G1 F500")[0])
	assert.Equal(t, MotionNone, st.Motion)
	st = vm.Run(MustParse("X20")[0])
	assert.Equal(t, MotionLinear, st.Motion)
	assert.Equal(t, coord.Point{X: 20, Y: 5}, st.To)
	assert.Equal(t, 500.0, st.Feed)
	assert.False(t, st.Extra)

	st = vm.Run(MustParse("G91")[0])
	assert.True(t, st.DistanceChange)
	assert.True(t, st.Relative)
	st = vm.Run(MustParse("G1 X-5 Y-5")[0])
	assert.Equal(t, coord.Point{X: 20, Y: 5}, st.From)
	assert.Equal(t, coord.Point{X: 15, Y: 0}, st.To)
}

func TestVM_Laser(t *testing.T) {
	vm := NewVM()
	assert.False(t, vm.LaserMode())

	st := vm.Run(MustParse("M3 S1000")[0])
	assert.True(t, st.LaserOn)
	assert.Equal(t, 1000.0, st.Power)
	assert.True(t, vm.LaserMode())

	st = vm.Run(MustParse("G1 X1")[0])
	assert.False(t, st.Idle(vm.LaserMode(), vm.LaserOn()))

	st = vm.Run(MustParse("M5")[0])
	assert.True(t, st.LaserOff)
	st = vm.Run(MustParse("G1 X2")[0])
	assert.True(t, st.Idle(vm.LaserMode(), vm.LaserOn()))
}

func TestVM_NonMotion(t *testing.T) {
	vm := NewVM()
	vm.Run(MustParse("G0 X5")[0])
	st := vm.Run(MustParse("G92 X0 Y0")[0])
	assert.Equal(t, MotionNone, st.Motion)
	assert.True(t, st.Extra)

	st = vm.Run(MustParse("G2 X10 Y0 I2.5 J0")[0])
	assert.Equal(t, MotionArc, st.Motion)
	assert.True(t, st.Extra)
}
