package catmap

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"

	"github.com/nlpodyssey/gopickle/pickle"

	"github.com/quatton/catmap-adapter/pkg/pyrepr"
)

// sequence is satisfied by *types.Tuple and *types.List.
type sequence interface {
	Len() int
	Get(i int) interface{}
}

// mapping is satisfied by *types.Dict and *types.OrderedDict.
type mapping interface {
	Get(key interface{}) (interface{}, bool)
}

// loadPickle decodes a CatMAP data file. mpmath floats and numpy scalars
// are rebuilt natively; any other class is kept as an Opaque object.
func loadPickle(r io.Reader) (obj interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("corrupt pickle: %v", rec)
		}
	}()
	u := pickle.NewUnpickler(r)
	u.FindClass = findClass
	return u.Load()
}

func findClass(module, name string) (interface{}, error) {
	switch {
	case strings.HasPrefix(module, "mpmath") && name == "mpf":
		return mpfClass{}, nil
	case module == "numpy" && name == "dtype":
		return dtypeClass{}, nil
	case (module == "numpy.core.multiarray" || module == "numpy._core.multiarray") && name == "scalar":
		return numpyScalar{}, nil
	case module == "_codecs" && name == "encode":
		return codecsEncode{}, nil
	}
	return opaqueClass{module: module, name: name}, nil
}

// Opaque stands in for an instance of a class the parser does not model,
// such as a datetime.date or a numpy array CatMAP stored next to the
// result tables. It only keeps what the pickle handed it.
type Opaque struct {
	Module string
	Name   string
	Args   []interface{}
	State  interface{}
}

// opaqueClass can be instantiated through REDUCE (Call) as well as
// NEWOBJ (PyNew).
type opaqueClass struct {
	module, name string
}

func (c opaqueClass) Call(args ...interface{}) (interface{}, error) {
	return &Opaque{Module: c.module, Name: c.name, Args: args}, nil
}

func (c opaqueClass) PyNew(args ...interface{}) (interface{}, error) {
	return c.Call(args...)
}

func (o *Opaque) PySetState(state interface{}) error {
	o.State = state
	return nil
}

func (o *Opaque) String() string {
	return o.Module + "." + o.Name
}

// Mpf is an mpmath multiprecision float, (-1)**Sign * Man * 2**Exp.
type Mpf struct {
	Sign int64
	Man  *big.Int
	Exp  int64
	BC   int64
}

// mpmath encodes the special values as a zero mantissa with a marker
// exponent
const (
	mpfExpInf    = -456
	mpfExpNegInf = -789
	mpfExpNaN    = -123
)

type mpfClass struct{}

func (mpfClass) PyNew(...interface{}) (interface{}, error) {
	return &Mpf{Man: new(big.Int)}, nil
}

// PySetState restores the (sign, hex mantissa, exp, bc) tuple written by
// mpmath's __getstate__.
func (m *Mpf) PySetState(state interface{}) error {
	t, ok := state.(sequence)
	if !ok || t.Len() != 4 {
		return fmt.Errorf("mpf: unexpected state %#v", state)
	}
	var err error
	if m.Sign, err = toInt64(t.Get(0)); err != nil {
		return fmt.Errorf("mpf sign: %w", err)
	}
	switch man := t.Get(1).(type) {
	case string:
		hex := strings.TrimSuffix(strings.TrimPrefix(strings.ToLower(man), "0x"), "l")
		if _, ok := m.Man.SetString(hex, 16); !ok {
			return fmt.Errorf("mpf mantissa: invalid hex %q", man)
		}
	case int:
		m.Man.SetInt64(int64(man))
	case *big.Int:
		m.Man.Set(man)
	default:
		return fmt.Errorf("mpf mantissa: unexpected %T", man)
	}
	if m.Exp, err = toInt64(t.Get(2)); err != nil {
		return fmt.Errorf("mpf exponent: %w", err)
	}
	if m.BC, err = toInt64(t.Get(3)); err != nil {
		return fmt.Errorf("mpf bit count: %w", err)
	}
	return nil
}

// Float64 narrows m to the nearest float64.
func (m *Mpf) Float64() float64 {
	if m.Man == nil || m.Man.Sign() == 0 {
		switch m.Exp {
		case mpfExpInf:
			return math.Inf(1)
		case mpfExpNegInf:
			return math.Inf(-1)
		case mpfExpNaN:
			return math.NaN()
		}
		return 0
	}

	var v float64
	switch top := m.Exp + int64(m.Man.BitLen()); {
	case top > 1100:
		v = math.Inf(1)
	case top < -1200:
		v = 0
	default:
		f := new(big.Float).SetInt(m.Man)
		f.SetMantExp(f, int(m.Exp))
		v, _ = f.Float64()
	}
	if m.Sign != 0 {
		v = -v
	}
	return v
}

// MarshalJSON writes m as a JSON number, or as its Python repr when it is
// not finite.
func (m *Mpf) MarshalJSON() ([]byte, error) {
	v := m.Float64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return json.Marshal(pyrepr.FormatFloat(v))
	}
	return json.Marshal(v)
}

// numpy.dtype(...) followed by BUILD with its state tuple
type dtypeClass struct{}

type numpyDtype struct {
	code  string
	order string
}

func (dtypeClass) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("numpy.dtype: missing type code")
	}
	code, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("numpy.dtype: unexpected type code %#v", args[0])
	}
	return &numpyDtype{code: code, order: "<"}, nil
}

func (d *numpyDtype) PySetState(state interface{}) error {
	t, ok := state.(sequence)
	if !ok || t.Len() < 2 {
		return nil
	}
	if order, ok := t.Get(1).(string); ok {
		d.order = order
	}
	return nil
}

// numpy.core.multiarray.scalar(dtype, raw bytes)
type numpyScalar struct{}

func (numpyScalar) Call(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("numpy scalar: expected 2 arguments, got %d", len(args))
	}
	dt, ok := args[0].(*numpyDtype)
	if !ok {
		return nil, fmt.Errorf("numpy scalar: unexpected dtype %#v", args[0])
	}
	var raw []byte
	switch b := args[1].(type) {
	case []byte:
		raw = b
	case string:
		raw = latin1(b)
	default:
		return nil, fmt.Errorf("numpy scalar: unexpected payload %T", args[1])
	}

	var order binary.ByteOrder = binary.LittleEndian
	if dt.order == ">" {
		order = binary.BigEndian
	}
	need := map[string]int{"f8": 8, "f4": 4, "i8": 8, "i4": 4, "u8": 8, "u4": 4, "b1": 1}
	size, ok := need[dt.code]
	if !ok {
		return nil, fmt.Errorf("numpy scalar: unsupported dtype %q", dt.code)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("numpy scalar: %s needs %d bytes, got %d", dt.code, size, len(raw))
	}
	switch dt.code {
	case "f8":
		return math.Float64frombits(order.Uint64(raw)), nil
	case "f4":
		return float64(math.Float32frombits(order.Uint32(raw))), nil
	case "i8":
		return int64(order.Uint64(raw)), nil
	case "i4":
		return int64(int32(order.Uint32(raw))), nil
	case "u8":
		return new(big.Int).SetUint64(order.Uint64(raw)), nil
	case "u4":
		return int64(order.Uint32(raw)), nil
	}
	return raw[0] != 0, nil
}

// _codecs.encode(str, 'latin1'), how protocol 2 stores bytes
type codecsEncode struct{}

func (codecsEncode) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("_codecs.encode: missing argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("_codecs.encode: unexpected %T", args[0])
	}
	return latin1(s), nil
}

func latin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case *big.Int:
		if !n.IsInt64() {
			return 0, fmt.Errorf("integer %s out of range", n)
		}
		return n.Int64(), nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

// toFloat narrows any numeric pickle value to float64.
func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, nil
	case *Mpf:
		return n.Float64(), nil
	}
	return 0, fmt.Errorf("%T is not a number", v)
}

// normalizeKey turns pickle containers into plain slices so keys are
// comparable with reflect.DeepEqual and marshal as JSON arrays.
func normalizeKey(v interface{}) interface{} {
	s, ok := v.(sequence)
	if !ok {
		return v
	}
	out := make([]interface{}, s.Len())
	for i := range out {
		out[i] = normalizeKey(s.Get(i))
	}
	return out
}
