package kinematics

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"crane-go/pkg/crane"
)

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// identity returns a fresh 4x4 identity matrix.
func identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// liftMatrix raises the arm along y. Lift equal to the spacer height puts
// the arm plane at y = 0.
func liftMatrix(lift, spacerHeight float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, lift - spacerHeight,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// linkMatrix rotates about the vertical (y) axis by angle degrees and then
// moves along the rotated link by length. Positive angles turn x towards -z.
func linkMatrix(angle, length float64) *mat.Dense {
	c, s := math.Cos(radians(angle)), math.Sin(radians(angle))
	return mat.NewDense(4, 4, []float64{
		c, 0, s, c * length,
		0, 1, 0, 0,
		-s, 0, c, -s * length,
		0, 0, 0, 1,
	})
}

// OrientationMatrix maps crane base coordinates into the outer frame:
// rotation by RotationZ degrees in the x/y plane followed by the translation.
func OrientationMatrix(o crane.Orientation) *mat.Dense {
	c, s := math.Cos(radians(o.RotationZ)), math.Sin(radians(o.RotationZ))
	return mat.NewDense(4, 4, []float64{
		c, -s, 0, o.X,
		s, c, 0, o.Y,
		0, 0, 1, o.Z,
		0, 0, 0, 1,
	})
}

// OrientationInverseMatrix is the closed-form inverse of OrientationMatrix.
func OrientationInverseMatrix(o crane.Orientation) *mat.Dense {
	c, s := math.Cos(radians(o.RotationZ)), math.Sin(radians(o.RotationZ))
	return mat.NewDense(4, 4, []float64{
		c, s, 0, -o.X*c - o.Y*s,
		-s, c, 0, o.X*s - o.Y*c,
		0, 0, 1, -o.Z,
		0, 0, 0, 1,
	})
}

// chain multiplies the transforms left to right.
func chain(ms ...*mat.Dense) *mat.Dense {
	out := identity()
	for _, m := range ms {
		var next mat.Dense
		next.Mul(out, m)
		out = &next
	}
	return out
}

// translation extracts the translation column of a homogeneous transform.
func translation(m mat.Matrix) r3.Vector {
	return r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
}

// apply transforms a point by a homogeneous matrix.
func apply(m mat.Matrix, p r3.Vector) r3.Vector {
	in := mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1})
	var out mat.VecDense
	out.MulVec(m, in)
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}
