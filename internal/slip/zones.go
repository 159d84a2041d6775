package slip

import "github.com/adverant/nexus/slipocr-worker/internal/ocr"

// TransactionType selects the slip template
type TransactionType string

const (
	TransactionBill     TransactionType = "bill"
	TransactionTransfer TransactionType = "transfer"
	TransactionUnknown  TransactionType = "unknown"
)

// Field names a region of interest on a slip
type Field string

const (
	FieldPayer  Field = "payer"
	FieldPayee  Field = "payee"
	FieldAmount Field = "amount"
	FieldDate   Field = "date"
)

// Fields lists every extracted field in a fixed order
var Fields = []Field{FieldPayer, FieldPayee, FieldAmount, FieldDate}

// Zone is a rectangle in fractions of image width (x) and height (y)
type Zone struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Contains reports whether p lies inside the zone scaled to width x height.
// All four bounds are inclusive.
func (z Zone) Contains(p ocr.Point, width, height float64) bool {
	return z.X1*width <= p.X && p.X <= z.X2*width &&
		z.Y1*height <= p.Y && p.Y <= z.Y2*height
}

// HeaderZone is where the slip title ("จ่ายบิล" / "โอนเงิน") is printed.
// It sits above every field zone of both templates.
var HeaderZone = Zone{X1: 0.0, Y1: 0.0, X2: 1.0, Y2: 0.25}

// Bill payment template
var billZones = map[Field]Zone{
	FieldPayer:  {X1: 0.208, Y1: 0.310, X2: 0.988, Y2: 0.358},
	FieldPayee:  {X1: 0.208, Y1: 0.457, X2: 0.988, Y2: 0.509},
	FieldAmount: {X1: 0.271, Y1: 0.769, X2: 0.877, Y2: 0.826},
	FieldDate:   {X1: 0.489, Y1: 0.891, X2: 0.979, Y2: 0.948},
}

// Account-to-account transfer template
var transferZones = map[Field]Zone{
	FieldPayer:  {X1: 0.210, Y1: 0.365, X2: 0.986, Y2: 0.415},
	FieldPayee:  {X1: 0.210, Y1: 0.577, X2: 0.986, Y2: 0.627},
	FieldAmount: {X1: 0.279, Y1: 0.754, X2: 0.864, Y2: 0.815},
	FieldDate:   {X1: 0.434, Y1: 0.876, X2: 0.965, Y2: 0.944},
}

// ZonesFor returns the zone set of a template. Unknown has none.
func ZonesFor(t TransactionType) (map[Field]Zone, bool) {
	switch t {
	case TransactionBill:
		return billZones, true
	case TransactionTransfer:
		return transferZones, true
	default:
		return nil, false
	}
}
