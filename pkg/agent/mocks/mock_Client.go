// Package mocks provides test doubles for the agent client.
package mocks

import (
	"context"

	agent "github.com/sells-group/signal-cli/pkg/agent"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// CreateTask provides a mock function with given fields: ctx, req
func (_m *MockClient) CreateTask(ctx context.Context, req agent.CreateTaskRequest) (*agent.CreateTaskResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for CreateTask")
	}

	var r0 *agent.CreateTaskResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, agent.CreateTaskRequest) (*agent.CreateTaskResponse, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*agent.CreateTaskResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetTask provides a mock function with given fields: ctx, id
func (_m *MockClient) GetTask(ctx context.Context, id string) (*agent.TaskResponse, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetTask")
	}

	var r0 *agent.TaskResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*agent.TaskResponse, error)); ok {
		return rf(ctx, id)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*agent.TaskResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
