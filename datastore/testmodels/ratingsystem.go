/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package testmodels holds entities shared by tests across packages.
package testmodels

import (
	"context"
	"time"

	"github.com/suparena/entityrepo/registry"
)

// RatingSystemSchema is the current stored shape of a RatingSystem.
const RatingSystemSchema = 2

// RatingSystem describes how players of a site are rated.
type RatingSystem struct {
	ID          string    `dynamodbav:"id"`
	Name        string    `dynamodbav:"name"`
	Description string    `dynamodbav:"description"`
	SiteURL     string    `dynamodbav:"siteUrl,omitempty"`
	CreatedAt   time.Time `dynamodbav:"createdAt"`
	UpdatedAt   time.Time `dynamodbav:"updatedAt"`
	Schema      int       `dynamodbav:"schema"`
}

// GetID returns the rating system id.
func (r RatingSystem) GetID() string { return r.ID }

// NeedsCleaning reports documents written before the current schema.
func (r RatingSystem) NeedsCleaning() bool { return r.Schema < RatingSystemSchema }

// GetTimestamp is the creation time.
func (r RatingSystem) GetTimestamp() time.Time { return r.CreatedAt }

// UpgradeRatingSystem brings a RatingSystem to the current schema. Schema 1
// had no description.
func UpgradeRatingSystem(_ context.Context, r RatingSystem) (RatingSystem, error) {
	if r.Description == "" {
		r.Description = r.Name
	}
	r.Schema = RatingSystemSchema
	return r, nil
}

// RatingSystemIndexes is the declared index set of the RatingSystem collection.
var RatingSystemIndexes = []registry.IndexSpec{
	{Name: "byName", PartitionKey: "name"},
	{Name: "bySite", PartitionKey: "siteUrl", SortKey: "createdAt"},
}
