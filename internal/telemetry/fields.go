package telemetry

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Field is one named, unit-tagged value of a Reading
type Field struct {
	Label    string
	Value    float64
	Unit     string
	Decimals int
}

// Format renders the value with its fixed precision and unit
func (f Field) Format() string {
	return fmt.Sprintf("%.*f%s", f.Decimals, f.Value, f.Unit)
}

// Fields returns the reading's values keyed by stable name, in wire order
func (r Reading) Fields() *orderedmap.OrderedMap[string, Field] {
	fields := orderedmap.New[string, Field]()
	fields.Set("temperature", Field{Label: "Temperature", Value: r.Temperature, Unit: "°C"})
	fields.Set("setpoint", Field{Label: "Setpoint", Value: r.Setpoint, Unit: "°C"})
	fields.Set("input_voltage", Field{Label: "Input Voltage", Value: r.InputVoltage, Unit: "V", Decimals: 1})
	fields.Set("handle_temperature", Field{Label: "Handle", Value: r.HandleTemperature, Unit: "°C", Decimals: 1})
	fields.Set("power", Field{Label: "Power", Value: r.PowerWatts, Unit: "W", Decimals: 1})
	return fields
}

// String renders the reading on one line, e.g. "Temperature=200°C Setpoint=210°C ..."
func (r Reading) String() string {
	s := ""
	for pair := r.Fields().Oldest(); pair != nil; pair = pair.Next() {
		if s != "" {
			s += " "
		}
		s += pair.Value.Label + "=" + pair.Value.Format()
	}
	return s
}
