// Package test provides testing utilities for the donations backend,
// including the MongoDB test container backing the event index tests.
package test

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MongoPort is the port exposed by the MongoDB test container.
const MongoPort = "27017"

// StartMongoContainer starts a MongoDB container for testing the
// processed-event index. It returns the container and any error encountered
// during startup.
func StartMongoContainer(ctx context.Context) (testcontainers.Container, error) {
	mongoPort := fmt.Sprintf("%s/tcp", MongoPort)
	return testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "mongo:7",
				ExposedPorts: []string{mongoPort},
				WaitingFor:   wait.ForListeningPort(MongoPort),
			},
			Started: true,
		})
}

// MongoConnectionString returns the mongodb:// URI of a running container.
func MongoConnectionString(ctx context.Context, container testcontainers.Container) (string, error) {
	return container.Endpoint(ctx, "mongodb")
}

// RandomDatabaseName returns a random database name so concurrent test
// packages sharing a container do not step on each other.
func RandomDatabaseName() string {
	return fmt.Sprintf("donationsTest%06d", rand.Intn(1000000))
}
