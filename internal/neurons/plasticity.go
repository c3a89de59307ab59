package neurons

// IntrinsicPlasticity adapts a neuron's excitability after its update.
type IntrinsicPlasticity interface {
	Adapt(n int, spiked bool)
}

// StubPlasticity performs no adaptation.
type StubPlasticity struct{}

func (StubPlasticity) Adapt(int, bool) {}
