// Package config loads env-tagged configuration structs from the
// process environment, reading a .env file first when one exists.
// Each struct type is parsed once and cached, so independent
// components can load the same config without duplicate env parsing.
package config
