/*
Package livecapture records screen and webcam devices straight into object
storage while they are being captured.

A Controller opens every configured Source, encodes each device at a fixed
interval, and streams the encoded buffers through a pipeline.Chunker into a
sink.Uploader. Each device becomes its own Session with its own object key;
sessions never share a pipeline or an upload, so a failure in one leaves the
other untouched.

The capture subpackage defines devices and encoders, with implementations
backed by files and by ffmpeg. The sink subpackage implements multipart
uploads to S3-compatible stores and to OpenStack Swift as Static Large
Objects. The pipeline subpackage holds the low-level stages both are built
from.

	ctrl, err := livecapture.NewController(livecapture.Options{
		Provider:    capture.NewFileProvider("screen.webm", "webcam.webm"),
		Encoders:    capture.ReaderEncoderFactory{},
		Destination: dest,
	})
	report, err := ctrl.Start(ctx)
	// ...
	results, err := ctrl.Stop(ctx)
*/
package livecapture
