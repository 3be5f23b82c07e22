// Package userstore provides credential store backends for the rotation
// engine: a Redis implementation for single-binary deployments and a
// GORM/Postgres implementation for durable ones. Both enforce username and
// email uniqueness and report collisions as rotor.ErrUserExists.
package userstore
