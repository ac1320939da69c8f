package media

// Replicator copies its single input to every connected output. It is the only
// way to fan a stream out: an output port feeds exactly one downstream input.
// Samples are cloned per output so that each leg owns its copy; stream infos
// are shared.
type Replicator struct {
	*Base
}

// NewReplicator returns a 1-input replicator with a variable number of
// outputs.
func NewReplicator(name string) *Replicator {
	r := &Replicator{}
	r.Base = NewBase(name, r, Ports{Inputs: 1, Outputs: Variable})
	return r
}

func (r *Replicator) ProcessData(data *StreamData) error {
	outs := r.ConnectedOutputs()
	for i, out := range outs {
		d := *data
		d.StreamIndex = out
		if data.Type == DataMediaSample && i < len(outs)-1 {
			d.MediaSample = data.MediaSample.Clone()
		}
		if err := r.Dispatch(&d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replicator) OnFlushRequest(int) error { return nil }

// PassThrough forwards input 0 to output 0 unchanged.
type PassThrough struct {
	*Base
}

func NewPassThrough(name string) *PassThrough {
	p := &PassThrough{}
	p.Base = NewBase(name, p, Ports{Inputs: 1, Outputs: 1})
	return p
}

func (p *PassThrough) ProcessData(data *StreamData) error {
	data.StreamIndex = 0
	return p.Dispatch(data)
}

func (p *PassThrough) OnFlushRequest(int) error { return nil }

// InfoRewriter forwards input 0 to output 0, replacing each stream info with
// the result of rewrite. Samples and markers pass unchanged.
type InfoRewriter struct {
	*Base
	rewrite func(*StreamInfo) *StreamInfo
}

func NewInfoRewriter(name string, rewrite func(*StreamInfo) *StreamInfo) *InfoRewriter {
	r := &InfoRewriter{rewrite: rewrite}
	r.Base = NewBase(name, r, Ports{Inputs: 1, Outputs: 1})
	return r
}

func (r *InfoRewriter) ProcessData(data *StreamData) error {
	d := *data
	d.StreamIndex = 0
	if d.Type == DataStreamInfo {
		d.StreamInfo = r.rewrite(d.StreamInfo)
	}
	return r.Dispatch(&d)
}

func (r *InfoRewriter) OnFlushRequest(int) error { return nil }
