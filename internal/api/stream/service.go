package stream

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

const (
	ServiceName     = "signalling.EventStream"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
	maxRequestIDs   = 1024
)

// SubscribeRequest selects which events a stream carries. Empty lists match
// everything. With Snapshot set, the current decoder state is sent first.
type SubscribeRequest struct {
	Classes  []string `json:"classes,omitempty"`
	IDs      []string `json:"ids,omitempty"`
	Snapshot bool     `json:"snapshot,omitempty"`
}

// EventStreamServer is the server API for the signalling.EventStream service.
type EventStreamServer interface {
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
}

// ServiceDesc is registered with grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "signalling/event_stream",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventStreamServer).Subscribe(req, stream)
}

func RegisterEventStreamServer(s grpc.ServiceRegistrar, srv EventStreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SnapshotProvider supplies the decoder state for SubscribeRequest.Snapshot.
type SnapshotProvider interface {
	Snapshot() []types.Event
}

type EventService struct {
	streamer  *EventStreamer
	snapshots SnapshotProvider
	logger    *zap.Logger
}

func NewEventService(streamer *EventStreamer, snapshots SnapshotProvider, logger *zap.Logger) *EventService {
	return &EventService{
		streamer:  streamer,
		snapshots: snapshots,
		logger:    logger,
	}
}

func (s *EventService) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	match, err := newMatcher(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	// subscribe before the snapshot so nothing falls between the two
	id, events := s.streamer.Subscribe()
	defer func() {
		if dropped := s.streamer.Unsubscribe(id); dropped > 0 {
			s.logger.Warn("gRPC subscriber fell behind",
				zap.String("subscriber_id", id.String()),
				zap.Uint64("dropped", dropped))
		}
	}()

	s.logger.Info("gRPC subscriber connected",
		zap.String("subscriber_id", id.String()),
		zap.Strings("classes", req.Classes),
		zap.Int("ids", len(req.IDs)))

	if req.Snapshot && s.snapshots != nil {
		for _, ev := range s.snapshots.Snapshot() {
			if !match(ev) {
				continue
			}
			if err := stream.SendMsg(ev); err != nil {
				return err
			}
		}
	}

	ctx := stream.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return status.Error(codes.Unavailable, "event stream closed")
			}
			if !match(ev) {
				continue
			}
			if err := stream.SendMsg(ev); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func newMatcher(req *SubscribeRequest) (func(types.Event) bool, error) {
	var classes map[types.EventClass]bool
	for _, c := range req.Classes {
		switch c {
		case "S", "C":
		default:
			return nil, fmt.Errorf("unknown event class %q", c)
		}
		if classes == nil {
			classes = make(map[types.EventClass]bool)
		}
		classes[types.EventClass(c[0])] = true
	}

	if len(req.IDs) > maxRequestIDs {
		return nil, fmt.Errorf("too many ids: %d (max %d)", len(req.IDs), maxRequestIDs)
	}
	var ids map[string]bool
	for _, id := range req.IDs {
		if ids == nil {
			ids = make(map[string]bool, len(req.IDs))
		}
		ids[id] = true
	}

	return func(ev types.Event) bool {
		if classes != nil && !classes[ev.Class] {
			return false
		}
		if ids == nil {
			return true
		}
		if ev.IsDescriber() {
			return ids[ev.Describer]
		}
		return ids[ev.ID]
	}, nil
}

// SubscribeClient reads events from a Subscribe stream.
type SubscribeClient struct {
	stream grpc.ClientStream
}

// Subscribe opens an event stream on cc.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, req *SubscribeRequest) (*SubscribeClient, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], subscribeMethod,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SubscribeClient{stream: stream}, nil
}

func (c *SubscribeClient) Recv() (types.Event, error) {
	var ev types.Event
	if err := c.stream.RecvMsg(&ev); err != nil {
		return types.Event{}, err
	}
	return ev, nil
}
