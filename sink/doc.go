/*
Package sink persists a live sequence of chunks as one named object.

The main fixture of the sink package is the Destination interface.
Destination provides the multipart contract that the Uploader needs from
an object store: begin an upload, put numbered parts (concurrently), and
either complete it or abort it. Two implementations are provided.
S3Destination wraps the github.com/minio/minio-go/v7 Core client and
SwiftDestination wraps github.com/ncw/swift.Connection, storing parts as
segments behind a Static Large Object manifest. Mock implementations for
tests live in the mock subpackage.

The Uploader reads chunks from a channel, groups them into parts of at
least the destination's minimum part size, and transfers them with a
small fixed number of workers, retrying each part on an exponential
backoff. It reports exactly one Result once its input has closed and
every part has been settled. Nothing is known about the total size of
the object until its input closes, so progress is reported in bytes
transferred only.

The names of the parameters to AuthenticateSwift may not match the names
of the credentials that your OpenStack Object Store provides. In
general, password and API Key are the same thing. Also domain may be
called domainName and tenant may be projectID. The auth URL MUST end
with its auth version, for example https://identity.example.com/v3.
*/
package sink
