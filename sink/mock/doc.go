/*
Package mock provides fake upload destinations for testing

The types defined here all implement the github.com/Niskarsh/livecapture/sink.Destination
interface and are therefore useful for testing any code that
uploads data via a destination. It includes a destination that does nothing,
a destination that stores uploaded parts in memory, and a destination that always
generates errors.
*/
package mock
