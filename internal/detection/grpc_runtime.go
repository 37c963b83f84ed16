package detection

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	modelRuntimeService = "aranyani.model.v1.ModelRuntime"
	loadMethod          = "/" + modelRuntimeService + "/Load"
	runMethod           = "/" + modelRuntimeService + "/Run"
)

// GRPCRuntime talks to the on-device model sidecar over gRPC.
// Tensors travel as little-endian float32 bytes in a BytesValue.
type GRPCRuntime struct {
	endpoint string
	conn     *grpc.ClientConn
	timeout  time.Duration
}

// GRPCRuntimeConfig holds configuration for the gRPC runtime
type GRPCRuntimeConfig struct {
	Endpoint    string
	Timeout     time.Duration // Per-call timeout (default 10s)
	DialOptions []grpc.DialOption
}

// NewGRPCRuntime creates a client for the model sidecar.
// The connection is established lazily on the first call.
func NewGRPCRuntime(config GRPCRuntimeConfig) (*GRPCRuntime, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("model endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: false,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	log.Printf("[ModelRuntime] Using sidecar at %s", config.Endpoint)
	return &GRPCRuntime{
		endpoint: config.Endpoint,
		conn:     conn,
		timeout:  config.Timeout,
	}, nil
}

// Load implements Runtime
func (r *GRPCRuntime) Load(ctx context.Context, artifact string) (ModelInfo, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"artifact": artifact,
	})
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to build load request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, loadMethod, req, resp); err != nil {
		return ModelInfo{}, fmt.Errorf("load rpc failed: %w", err)
	}

	fields := resp.GetFields()
	return ModelInfo{
		Name:      fields["name"].GetStringValue(),
		InputSize: int(fields["input_size"].GetNumberValue()),
		Classes:   int(fields["classes"].GetNumberValue()),
		Anchors:   int(fields["anchors"].GetNumberValue()),
	}, nil
}

// Run implements Runtime
func (r *GRPCRuntime) Run(ctx context.Context, input []float32) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp := new(wrapperspb.BytesValue)
	if err := r.conn.Invoke(ctx, runMethod, wrapperspb.Bytes(EncodeTensor(input)), resp); err != nil {
		return nil, fmt.Errorf("run rpc failed: %w", err)
	}

	return DecodeTensor(resp.GetValue())
}

// Close implements Runtime
func (r *GRPCRuntime) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// EncodeTensor packs float32 values as little-endian bytes
func EncodeTensor(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeTensor unpacks little-endian float32 bytes
func DecodeTensor(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, &DecodeError{Stage: "output", Reason: fmt.Sprintf("tensor byte length %d is not a multiple of 4", len(data))}
	}

	values := make([]float32, len(data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return values, nil
}

// ModelRuntimeServer is implemented by model sidecars
type ModelRuntimeServer interface {
	Load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Run(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// RegisterModelRuntimeServer registers a sidecar implementation on a gRPC server
func RegisterModelRuntimeServer(s grpc.ServiceRegistrar, srv ModelRuntimeServer) {
	s.RegisterService(&modelRuntimeServiceDesc, srv)
}

var modelRuntimeServiceDesc = grpc.ServiceDesc{
	ServiceName: modelRuntimeService,
	HandlerType: (*ModelRuntimeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: loadHandler},
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aranyani/model/v1/runtime.proto",
}

func loadHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelRuntimeServer).Load(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: loadMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelRuntimeServer).Load(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelRuntimeServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelRuntimeServer).Run(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var _ Runtime = (*GRPCRuntime)(nil)
