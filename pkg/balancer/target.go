package balancer

// Target is one weighted entry in a request mix.
type Target struct {
	Name          string
	Weight        int
	CurrentWeight int
}

func NewTarget(name string, weight int) *Target {
	return &Target{
		Name:   name,
		Weight: weight,
	}
}
