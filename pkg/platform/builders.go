package platform

import "encoding/json"

// LoadTable references a feature collection by asset id.
func LoadTable(assetID string) *Node {
	return Invoke("Collection.loadTable", map[string]*Node{"tableId": Constant(assetID)})
}

// LoadImageCollection references an image collection by asset id.
func LoadImageCollection(assetID string) *Node {
	return Invoke("ImageCollection.load", map[string]*Node{"id": Constant(assetID)})
}

// InList matches features whose field equals any of values.
func InList(field string, values ...string) *Node {
	items := make([]*Node, len(values))
	for i, v := range values {
		items[i] = Constant(v)
	}
	return Invoke("Filter.inList", map[string]*Node{
		"leftField":  Constant(field),
		"rightValue": List(items...),
	})
}

// And combines filters; a single filter is returned unchanged.
func And(filters ...*Node) *Node {
	if len(filters) == 1 {
		return filters[0]
	}
	return Invoke("Filter.and", map[string]*Node{"filters": List(filters...)})
}

// Filter applies filter to collection.
func Filter(collection, filter *Node) *Node {
	return Invoke("Collection.filter", map[string]*Node{"collection": collection, "filter": filter})
}

// FilterBounds keeps elements intersecting geometry.
func FilterBounds(collection, geometry *Node) *Node {
	return Filter(collection, Invoke("Filter.intersects", map[string]*Node{
		"leftField":  Constant(".all"),
		"rightValue": geometry,
	}))
}

// FilterDate keeps elements with system:time_start in [start, end).
func FilterDate(collection *Node, start, end string) *Node {
	return Filter(collection, Invoke("Filter.dateRangeContains", map[string]*Node{
		"leftValue": Invoke("DateRange", map[string]*Node{
			"start": Constant(start),
			"end":   Constant(end),
		}),
		"rightField": Constant("system:time_start"),
	}))
}

// Size counts the elements of a collection.
func Size(collection *Node) *Node {
	return Invoke("Collection.size", map[string]*Node{"collection": collection})
}

// First returns the first element of a collection.
func First(collection *Node) *Node {
	return Invoke("Collection.first", map[string]*Node{"collection": collection})
}

// GeoJSONGeometry embeds a GeoJSON geometry as a platform geometry.
func GeoJSONGeometry(geoJSON json.RawMessage) *Node {
	var v any
	_ = json.Unmarshal(geoJSON, &v)
	return Invoke("GeometryConstructors.fromGeoJSON", map[string]*Node{"geoJson": Constant(v)})
}

// Mosaic reduces an image collection to its per-pixel mean.
func Mosaic(collection *Node) *Node {
	return Invoke("ImageCollection.reduce", map[string]*Node{
		"collection": collection,
		"reducer":    Invoke("Reducer.mean", nil),
	})
}

// ReduceRegion computes the mean of image over geometry at scale metres.
func ReduceRegion(image, geometry *Node, scale float64) *Node {
	return Invoke("Image.reduceRegion", map[string]*Node{
		"image":      image,
		"reducer":    Invoke("Reducer.mean", nil),
		"geometry":   geometry,
		"scale":      Constant(scale),
		"maxPixels":  Constant(1e9),
		"bestEffort": Constant(true),
	})
}
