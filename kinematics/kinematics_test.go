package kinematics

import (
	"testing"

	"go.viam.com/test"
)

var create = Differential{
	WheelSeparation:  0.33,
	WheelRadius:      0.04,
	SpinCompensation: DefaultSpinCompensation,
}

func TestDifferentialStraight(t *testing.T) {
	out := create.Translate(VelocityCommand{Linear: 0.2})
	test.That(t, out.Left, test.ShouldAlmostEqual, 5.0)
	test.That(t, out.Right, test.ShouldEqual, out.Left)

	out = create.Translate(VelocityCommand{Linear: -0.2})
	test.That(t, out.Left, test.ShouldAlmostEqual, -5.0)
	test.That(t, out.Right, test.ShouldEqual, out.Left)
}

func TestDifferentialSpinIsSymmetric(t *testing.T) {
	out := create.Translate(VelocityCommand{Angular: 1})
	test.That(t, out.Left, test.ShouldEqual, -out.Right)
	// 0.5 * 1 * 0.33 / 0.04, doubled because the wheels oppose each other.
	test.That(t, out.Left, test.ShouldAlmostEqual, 8.25)
	test.That(t, out.Right, test.ShouldAlmostEqual, -8.25)
}

func TestDifferentialSpinCompensationDisabled(t *testing.T) {
	d := create
	d.SpinCompensation = 0
	out := d.Translate(VelocityCommand{Angular: 1})
	test.That(t, out.Left, test.ShouldAlmostEqual, 4.125)
	test.That(t, out.Right, test.ShouldAlmostEqual, -4.125)
}

func TestDifferentialTruncatesBeforeCompensation(t *testing.T) {
	d := create
	d.Truncate = true

	// -3.875 and 4.375 truncate to -3 and 4 before doubling.
	out := d.Translate(VelocityCommand{Linear: 0.01, Angular: 1})
	test.That(t, out.Right, test.ShouldEqual, -6.0)
	test.That(t, out.Left, test.ShouldEqual, 8.0)

	// -0.5 truncates to zero, so the wheels do not oppose and nothing is doubled.
	out = d.Translate(VelocityCommand{Linear: 0.1, Angular: 0.7273})
	test.That(t, out.Right, test.ShouldAlmostEqual, 0.0)
	test.That(t, out.Left, test.ShouldEqual, 5.0)

	d.Limit = 7
	out = d.Translate(VelocityCommand{Linear: 0.01, Angular: 1})
	test.That(t, out.Left, test.ShouldEqual, 7.0)
	test.That(t, out.Right, test.ShouldEqual, -6.0)
}

func TestDifferentialReverseFlipsTurn(t *testing.T) {
	forward := create.Translate(VelocityCommand{Linear: 0.2, Angular: 0.5})
	test.That(t, forward.Left, test.ShouldBeGreaterThan, forward.Right)

	reverse := create.Translate(VelocityCommand{Linear: -0.2, Angular: 0.5})
	test.That(t, reverse.Left, test.ShouldBeLessThan, reverse.Right)
	test.That(t, reverse.Left, test.ShouldAlmostEqual, -forward.Left)
	test.That(t, reverse.Right, test.ShouldAlmostEqual, -forward.Right)
}

func TestDifferentialClamp(t *testing.T) {
	d := create
	d.Limit = 500
	out := d.Translate(VelocityCommand{Linear: 100})
	test.That(t, out.Left, test.ShouldEqual, 500.0)
	test.That(t, out.Right, test.ShouldEqual, 500.0)

	out = d.Translate(VelocityCommand{Angular: -1000})
	test.That(t, out.Left, test.ShouldEqual, -500.0)
	test.That(t, out.Right, test.ShouldEqual, 500.0)
}

func TestModelClampAndRound(t *testing.T) {
	m := Model{Scale: 100, LinearLimit: 100, AngularLimit: 100}

	for _, tc := range []struct {
		name string
		in   VelocityCommand
		want ModelCommand
	}{
		{"zero", VelocityCommand{}, ModelCommand{}},
		{"in range", VelocityCommand{Linear: 0.5, Angular: -0.25}, ModelCommand{Linear: 50, Angular: -25}},
		{"half away from zero", VelocityCommand{Linear: 0.125, Angular: -0.125}, ModelCommand{Linear: 13, Angular: -13}},
		{"clamped", VelocityCommand{Linear: 3, Angular: -7}, ModelCommand{Linear: 100, Angular: -100}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, m.Translate(tc.in), test.ShouldResemble, tc.want)
		})
	}
}

func TestArc(t *testing.T) {
	a := Arc{WheelSeparation: 0.23}

	for _, tc := range []struct {
		name string
		in   VelocityCommand
		want ArcCommand
	}{
		{"stopped", VelocityCommand{}, ArcCommand{}},
		{"straight", VelocityCommand{Linear: 0.3}, ArcCommand{Speed: 300}},
		{"reverse", VelocityCommand{Linear: -0.3}, ArcCommand{Speed: -300}},
		{"spin left", VelocityCommand{Angular: 1}, ArcCommand{Speed: 115, Radius: 1}},
		{"spin right", VelocityCommand{Angular: -1}, ArcCommand{Speed: 115, Radius: -1}},
		{"arc", VelocityCommand{Linear: 0.2, Angular: 0.4}, ArcCommand{Speed: 246, Radius: 500}},
		{"reverse arc", VelocityCommand{Linear: -0.2, Angular: 0.4}, ArcCommand{Speed: -246, Radius: -500}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, a.Translate(tc.in), test.ShouldResemble, tc.want)
		})
	}
}

func TestVelocityCommandIsZero(t *testing.T) {
	test.That(t, VelocityCommand{}.IsZero(), test.ShouldBeTrue)
	test.That(t, VelocityCommand{Angular: 0.1}.IsZero(), test.ShouldBeFalse)
}
