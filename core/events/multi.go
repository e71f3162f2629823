package events

// MultiEmitter fans one event out to several downstream emitters, in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(event Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(event)
		}
	}
}
