package nn

// ModelTelemetry represents a single network's structure
type ModelTelemetry struct {
	ID          string           `json:"id"`
	TotalLayers int              `json:"total_layers"`
	TotalParams int              `json:"total_parameters"`
	InputShape  []int            `json:"input_shape"`
	OutputShape []int            `json:"output_shape"`
	Layers      []LayerTelemetry `json:"layers"`
}

// LayerTelemetry contains metadata about a specific layer
type LayerTelemetry struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Activation string `json:"activation,omitempty"`
	Parameters int    `json:"parameters"`

	InputShape  []int `json:"input_shape"`
	OutputShape []int `json:"output_shape"`
}

// Blueprint extracts structural telemetry from a network.
func (s *Sequential) Blueprint(modelID string) ModelTelemetry {
	telemetry := ModelTelemetry{
		ID:          modelID,
		TotalLayers: len(s.layers),
		InputShape:  shapeDims(s.InShape()),
		OutputShape: shapeDims(s.OutShape()),
		Layers:      make([]LayerTelemetry, 0, len(s.layers)),
	}

	for i, l := range s.layers {
		tel := LayerTelemetry{
			Name:        l.Name(),
			Type:        l.Kind(),
			Parameters:  paramCount(l),
			InputShape:  shapeDims(s.shapes[i]),
			OutputShape: shapeDims(s.shapes[i+1]),
		}
		if a, ok := l.(*Activation); ok {
			tel.Activation = a.Type.String()
		}
		telemetry.Layers = append(telemetry.Layers, tel)
		telemetry.TotalParams += tel.Parameters
	}

	return telemetry
}

func shapeDims(s Shape) []int {
	if s.H == 1 && s.W == 1 {
		return []int{s.C}
	}
	return []int{s.C, s.H, s.W}
}
