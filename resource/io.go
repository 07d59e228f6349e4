package resource

import (
	"context"
	"io"
)

// RateLimitedWriter paces Write calls against a Controller's IO budget
// before delegating to the wrapped io.Writer.
type RateLimitedWriter struct {
	w   io.Writer
	rc  *Controller
	ctx context.Context
}

// NewRateLimitedWriter wraps w, pacing every Write through rc's IO
// budget for the lifetime of ctx.
func NewRateLimitedWriter(w io.Writer, rc *Controller, ctx context.Context) *RateLimitedWriter {
	return &RateLimitedWriter{
		w:   w,
		rc:  rc,
		ctx: ctx,
	}
}

func (w *RateLimitedWriter) Write(p []byte) (n int, err error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// RateLimitedReader paces Read calls against a Controller's IO budget
// before delegating to the wrapped io.Reader.
type RateLimitedReader struct {
	r   io.Reader
	rc  *Controller
	ctx context.Context
}

// NewRateLimitedReader wraps r, pacing every Read through rc's IO
// budget for the lifetime of ctx.
func NewRateLimitedReader(r io.Reader, rc *Controller, ctx context.Context) *RateLimitedReader {
	return &RateLimitedReader{
		r:   r,
		rc:  rc,
		ctx: ctx,
	}
}

// Read charges against the IO budget for len(p), the caller's maximum
// potential read, before the underlying Read runs: the actual byte count
// isn't known until after the call, so the budget is paid up front on the
// requested buffer size rather than the eventual n.
func (r *RateLimitedReader) Read(p []byte) (n int, err error) {
	if err := r.rc.AcquireIO(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
