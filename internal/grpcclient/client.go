// Package grpcclient provides a model backend that delegates inference to a
// remote classifier service over gRPC.
package grpcclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/dermascan/internal/diagnosis"
	"github.com/example/dermascan/internal/logging"
	"github.com/example/dermascan/internal/model"
)

// PredictMethod is the fully qualified RPC served by the remote classifier.
// The request is the little-endian float32 tensor wrapped in BytesValue; the
// response is the probability vector as a ListValue of numbers.
const PredictMethod = "/dermascan.inference.v1.Classifier/Predict"

// Loader dials the remote classifier. It implements model.Loader so the remote
// service is handled exactly like a local artifact: dialing is the load step.
type Loader struct {
	Addr        string
	DialTimeout time.Duration
	Logger      *zap.Logger
	// DialOptions are appended to the defaults; tests use them to inject a dialer.
	DialOptions []grpc.DialOption
}

// Location implements model.Loader.
func (l *Loader) Location() string {
	return "grpc://" + l.Addr
}

// Load implements model.Loader.
func (l *Loader) Load(ctx context.Context) (model.Model, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := l.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, l.DialOptions...)

	conn, err := grpc.DialContext(dialCtx, l.Addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", l.Addr))
		return nil, &diagnosis.ModelLoadError{Location: l.Location(), Err: wrapped}
	}
	return &remoteModel{conn: conn, logger: logger}, nil
}

type remoteModel struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// Predict implements model.Model.
func (r *remoteModel) Predict(ctx context.Context, input *model.Tensor) ([]float32, error) {
	req := wrapperspb.Bytes(EncodeTensor(input.Data))
	resp := &structpb.ListValue{}
	if err := r.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		r.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	out := make([]float32, 0, len(resp.GetValues()))
	for i, v := range resp.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("classifier returned non-numeric value at index %d", i)
		}
		out = append(out, float32(n.NumberValue))
	}
	return out, nil
}

// Close implements model.Model.
func (r *remoteModel) Close() error {
	return r.conn.Close()
}

// EncodeTensor serializes float32 values little-endian.
func EncodeTensor(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeTensor is the inverse of EncodeTensor.
func DecodeTensor(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, errors.New("tensor payload is not a multiple of 4 bytes")
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
