package bench

import (
	"github.com/weiihann/hddtest/config"
	"github.com/weiihann/hddtest/resultfile"
)

type fileRWResult struct {
	write speedResult
	read  speedResult
}

func (r *fileRWResult) erase() {
	r.write.erase()
	r.read.erase()
}

func (r *fileRWResult) percent() int {
	done := r.write.done.Load() + r.read.done.Load()
	target := r.write.target.Load() + r.read.target.Load()

	return percent(done, target)
}

func (r *fileRWResult) drain() []Sample {
	return append(r.write.log.Drain(), r.read.log.Drain()...)
}

// fileRW writes one scratch file block by block, reopens it with cold
// caches and reads it back in the same block size.
type fileRW struct {
	total int64
	block int64
	name  string
	res   [2]fileRWResult
}

func newFileRW(cfg *config.Config) *fileRW {
	b := &fileRW{
		total: cfg.FileRW.TotalSize.Bytes(),
		block: cfg.FileRW.BlockSize.Bytes(),
		name:  cfg.FileRW.FileName,
	}

	for i := range b.res {
		b.res[i].write.series = "write"
		b.res[i].read.series = "read"
	}

	return b
}

func (b *fileRW) Kind() Kind { return FileReadWrite }

func (b *fileRW) InitScene() { b.res[Primary].erase() }

func (b *fileRW) blocks() int64 {
	if b.block <= 0 {
		return 0
	}

	return b.total / b.block
}

func (b *fileRW) Run(env *Env) {
	res := &b.res[Primary]
	res.erase()

	blocks := b.blocks()
	res.write.reset(blocks)
	res.read.reset(blocks)

	dev := env.Device

	f, err := dev.OpenScratchFile(b.name)
	if err != nil {
		env.Check("open", err)
		return
	}

	defer func() {
		env.Check("close", f.Close())
	}()

	for i := int64(0); i < blocks; i++ {
		elapsed, err := f.Write(b.block)
		env.Check("write", err)

		res.write.add(throughput(b.block, elapsed))
		res.write.step()

		if env.Stopped() {
			return
		}
	}

	if err := f.Reopen(); err != nil {
		env.Check("reopen", err)
		return
	}

	dev.Sync()
	dev.DropCaches()

	if err := f.SetPos(0); err != nil {
		env.Check("seek", err)
		return
	}

	for i := int64(0); i < blocks; i++ {
		elapsed, err := f.Read(b.block)
		env.Check("read", err)

		res.read.add(throughput(b.block, elapsed))
		res.read.step()

		if env.Stopped() {
			return
		}
	}
}

func (b *fileRW) Drain(d Dataset) []Sample { return b.res[d].drain() }

func (b *fileRW) Progress(d Dataset) int { return b.res[d].percent() }

func (b *fileRW) Summary(d Dataset) []Metric {
	w, r := &b.res[d].write.speeds, &b.res[d].read.speeds

	return []Metric{
		{Name: "average write speed", Unit: "MiB/s", Value: w.Avg()},
		{Name: "max write speed", Unit: "MiB/s", Value: w.Max()},
		{Name: "average read speed", Unit: "MiB/s", Value: r.Avg()},
		{Name: "max read speed", Unit: "MiB/s", Value: r.Max()},
	}
}

func (b *fileRW) WriteResults() *resultfile.Element {
	res := &b.res[Primary]
	valid := res.percent() == 100

	write := resultfile.NewElement("Write_data")
	read := resultfile.NewElement("Read_data")

	if valid {
		for _, v := range res.write.speeds.Values() {
			write.Append(resultfile.NewElement("Write").SetFloat("speed", v))
		}

		for _, v := range res.read.speeds.Values() {
			read.Append(resultfile.NewElement("Read").SetFloat("speed", v))
		}
	}

	return resultfile.NewElement(FileReadWrite.ElementName()).
		SetValid(valid).
		Append(write, read)
}

func (b *fileRW) RestoreResults(root *resultfile.Element, d Dataset) {
	el := root.FirstChild(FileReadWrite.ElementName())
	if !el.Valid() {
		return
	}

	res := &b.res[d]
	res.erase()

	restore := func(r *speedResult, group, name string) {
		children := el.FirstChild(group).ChildrenNamed(name)
		for _, c := range children {
			r.add(c.Float("speed", 0))
		}

		r.complete(int64(len(children)))
	}

	restore(&res.write, "Write_data", "Write")
	restore(&res.read, "Read_data", "Read")
}

func (b *fileRW) EraseResults(d Dataset) { b.res[d].erase() }
