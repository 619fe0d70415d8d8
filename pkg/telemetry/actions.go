package telemetry

type ActionCategory int

const (
	Building ActionCategory = iota
	Fuzzing
	Debugging
	Updating
)

func (a ActionCategory) String() string {
	switch a {
	case Building:
		return "building"
	case Fuzzing:
		return "fuzzing"
	case Debugging:
		return "debugging"
	case Updating:
		return "updating"
	default:
		return "unknown"
	}
}
