package engine

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ProtoFile is the path the Engine service descriptor is registered under.
const ProtoFile = "matchroom/v1/engine.proto"

// File describes the Engine service and is registered with the global
// proto registry, so server reflection can resolve it.
var File = registerFile()

// registerFile builds the descriptor from ServiceDesc. Every method takes
// and returns google.protobuf.Struct.
func registerFile() protoreflect.FileDescriptor {
	const structType = ".google.protobuf.Struct"

	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(ServiceDesc.Methods)+len(ServiceDesc.Streams))
	for _, m := range ServiceDesc.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.MethodName),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	for _, s := range ServiceDesc.Streams {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:            proto.String(s.StreamName),
			InputType:       proto.String(structType),
			OutputType:      proto.String(structType),
			ClientStreaming: proto.Bool(s.ClientStreams),
			ServerStreaming: proto.Bool(s.ServerStreams),
		})
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("matchroom.v1"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("Engine"),
			Method: methods,
		}},
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("engine: build descriptor: %v", err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("engine: register descriptor: %v", err))
	}
	return fd
}
