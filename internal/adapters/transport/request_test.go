package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/facescan/internal/adapters/transport"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func frame() model.CapturedImage {
	return model.CapturedImage{Data: []byte{0xff, 0xd8, 0xff, 0xe0}, ContentType: "image/jpeg", Width: 640, Height: 480}
}

func await(t *testing.T, ch <-chan transport.Result, wait time.Duration) (transport.Result, bool) {
	t.Helper()
	select {
	case res, ok := <-ch:
		return res, ok
	case <-time.After(wait):
		t.Fatalf("no result within %s", wait)
	}
	return transport.Result{}, false
}

func matchServer(status int, body string, seen *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/find_match_react_native" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			*seen = r.FormValue("file_data")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestRequestTransport(t *testing.T) {
	Convey("Given a request adapter against a match service", t, func() {
		ctx := context.Background()

		Convey("When the service reports a match", func() {
			var posted string
			srv := matchServer(http.StatusOK,
				`{"match_found":true,"confidence":0.87,"distance":0.13,"matched_image":"f1.jpg","file_path":"uploads/f1.jpg","message":"Match found!"}`,
				&posted)
			defer srv.Close()

			a := transport.NewRequest(transport.Config{BaseURL: srv.URL})
			defer func() { _ = a.Close() }()
			So(a.Mode(), ShouldEqual, model.ModeRequest)
			So(a.Open(ctx), ShouldBeNil)
			So(a.Send(ctx, frame()), ShouldBeNil)
			res, ok := await(t, a.Results(), 2*time.Second)

			Convey("Then one candidate carries the verdict", func() {
				So(ok, ShouldBeTrue)
				So(res.Err, ShouldBeNil)
				So(res.Candidate.MatchFound, ShouldBeTrue)
				So(res.Candidate.Confidence, ShouldEqual, 0.87)
				So(*res.Candidate.Distance, ShouldEqual, 0.13)
				So(res.Candidate.MatchedRecordID, ShouldEqual, "f1.jpg")
				So(res.Candidate.FilePath, ShouldEqual, "uploads/f1.jpg")
				So(posted, ShouldStartWith, "data:image/jpeg;base64,")
			})

			Convey("And a second send is refused", func() {
				err := a.Send(ctx, frame())
				So(errors.Is(err, transport.ErrAlreadySent), ShouldBeTrue)
			})
		})

		Convey("When the service uses the filename field", func() {
			srv := matchServer(http.StatusOK, `{"match_found":true,"confidence":0.87,"filename":"f1.jpg"}`, nil)
			defer srv.Close()

			a := transport.NewRequest(transport.Config{BaseURL: srv.URL})
			defer func() { _ = a.Close() }()
			So(a.Send(ctx, frame()), ShouldBeNil)
			res, _ := await(t, a.Results(), 2*time.Second)

			So(res.Err, ShouldBeNil)
			So(res.Candidate.MatchedRecordID, ShouldEqual, "f1.jpg")
		})

		Convey("When the service finds no match", func() {
			srv := matchServer(http.StatusOK,
				`{"match_found":false,"message":"No match found","sighting_saved":"sighting_20260101.jpg"}`, nil)
			defer srv.Close()

			a := transport.NewRequest(transport.Config{BaseURL: srv.URL})
			defer func() { _ = a.Close() }()
			So(a.Send(ctx, frame()), ShouldBeNil)
			res, _ := await(t, a.Results(), 2*time.Second)

			So(res.Err, ShouldBeNil)
			So(res.Candidate.MatchFound, ShouldBeFalse)
			So(res.Candidate.SightingRef, ShouldEqual, "sighting_20260101.jpg")
		})

		Convey("When the service rejects the image", func() {
			srv := matchServer(http.StatusBadRequest, `{"detail":"Invalid image data"}`, nil)
			defer srv.Close()

			a := transport.NewRequest(transport.Config{BaseURL: srv.URL})
			defer func() { _ = a.Close() }()
			So(a.Send(ctx, frame()), ShouldBeNil)
			res, _ := await(t, a.Results(), 2*time.Second)

			Convey("Then the error carries status and detail", func() {
				So(errors.Is(res.Err, transport.ErrMatchService), ShouldBeTrue)
				var te *transport.Error
				So(errors.As(res.Err, &te), ShouldBeTrue)
				So(te.Status, ShouldEqual, http.StatusBadRequest)
				So(te.Detail, ShouldEqual, "Invalid image data")
				So(transport.Class(res.Err), ShouldEqual, "match_service")
			})
		})

		Convey("When the body is not JSON", func() {
			srv := matchServer(http.StatusOK, `<html>oops</html>`, nil)
			defer srv.Close()

			a := transport.NewRequest(transport.Config{BaseURL: srv.URL})
			defer func() { _ = a.Close() }()
			So(a.Send(ctx, frame()), ShouldBeNil)
			res, _ := await(t, a.Results(), 2*time.Second)

			So(errors.Is(res.Err, transport.ErrProtocol), ShouldBeTrue)
		})

		Convey("When a match arrives without a record id", func() {
			srv := matchServer(http.StatusOK, `{"match_found":true,"confidence":0.9}`, nil)
			defer srv.Close()

			a := transport.NewRequest(transport.Config{BaseURL: srv.URL})
			defer func() { _ = a.Close() }()
			So(a.Send(ctx, frame()), ShouldBeNil)
			res, _ := await(t, a.Results(), 2*time.Second)

			So(errors.Is(res.Err, transport.ErrProtocol), ShouldBeTrue)
		})

		Convey("When the service is unreachable", func() {
			srv := matchServer(http.StatusOK, `{}`, nil)
			url := srv.URL
			srv.Close()

			a := transport.NewRequest(transport.Config{BaseURL: url})
			defer func() { _ = a.Close() }()
			So(a.Send(ctx, frame()), ShouldBeNil)
			res, _ := await(t, a.Results(), 2*time.Second)

			So(errors.Is(res.Err, transport.ErrConnect), ShouldBeTrue)
			So(errors.Is(res.Err, transport.ErrTimeout), ShouldBeFalse)
		})
	})
}

func TestRequestTransportTimeout(t *testing.T) {
	Convey("Given a match service slower than the request timeout", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer srv.Close()

		a := transport.NewRequest(transport.Config{BaseURL: srv.URL, RequestTimeout: 100 * time.Millisecond})
		defer func() { _ = a.Close() }()

		start := time.Now()
		So(a.Send(context.Background(), frame()), ShouldBeNil)
		res, _ := await(t, a.Results(), 2*time.Second)

		Convey("Then the failure is a timeout that is also a connect error", func() {
			So(time.Since(start), ShouldBeLessThan, time.Second)
			So(errors.Is(res.Err, transport.ErrTimeout), ShouldBeTrue)
			So(errors.Is(res.Err, transport.ErrConnect), ShouldBeTrue)
			So(transport.Class(res.Err), ShouldEqual, "timeout")
		})
	})
}

func TestRequestTransportClose(t *testing.T) {
	Convey("Given an in-flight request", t, func() {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer srv.Close()
		defer close(release)

		a := transport.NewRequest(transport.Config{BaseURL: srv.URL})
		So(a.Send(context.Background(), frame()), ShouldBeNil)

		Convey("When the adapter is closed", func() {
			So(a.Close(), ShouldBeNil)

			Convey("Then the round trip is abandoned and results close", func() {
				res, ok := await(t, a.Results(), 2*time.Second)
				So(ok, ShouldBeTrue)
				So(errors.Is(res.Err, transport.ErrClosed), ShouldBeTrue)
				_, ok = await(t, a.Results(), 2*time.Second)
				So(ok, ShouldBeFalse)

				So(errors.Is(a.Send(context.Background(), frame()), transport.ErrClosed), ShouldBeTrue)
				So(a.Close(), ShouldBeNil)
			})
		})
	})
}

func TestNewAdapter(t *testing.T) {
	Convey("Given the adapter constructor", t, func() {
		s, err := transport.New(model.ModeStreaming, transport.Config{BaseURL: "http://localhost:8000"})
		So(err, ShouldBeNil)
		So(s.Mode(), ShouldEqual, model.ModeStreaming)

		r, err := transport.NewFactory(transport.Config{BaseURL: "http://localhost:8000"})(model.ModeRequest)
		So(err, ShouldBeNil)
		So(r.Mode(), ShouldEqual, model.ModeRequest)

		_, err = transport.New("pigeon", transport.Config{BaseURL: "http://localhost:8000"})
		So(err, ShouldNotBeNil)
		_, err = transport.New(model.ModeRequest, transport.Config{})
		So(err, ShouldNotBeNil)
		So(strings.Contains(err.Error(), "base url"), ShouldBeTrue)
	})
}
