package metrics

import (
	"context"
	"reflect"

	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Proxy sets every function field of out to call the method of in with the same name.
// Each call gets a span, a duration measurement and a failure count, all keyed by the
// method name. Methods must take a context first and return an error last.
func Proxy(in interface{}, out interface{}) {
	outv := reflect.ValueOf(out).Elem()
	inv := reflect.ValueOf(in)
	tracer := otel.Tracer("lens")

	for i := 0; i < outv.NumField(); i++ {
		field := outv.Type().Field(i)
		method := inv.MethodByName(field.Name)
		if !method.IsValid() {
			panic("metrics proxy: missing method " + field.Name)
		}
		name := field.Name

		outv.Field(i).Set(reflect.MakeFunc(field.Type, func(args []reflect.Value) []reflect.Value {
			ctx := args[0].Interface().(context.Context)
			ctx, _ = tag.New(ctx, tag.Upsert(API, name))
			ctx, span := tracer.Start(ctx, "lens."+name)
			defer span.End()
			stop := Timer(ctx, LensRequestDuration)
			defer stop()

			args[0] = reflect.ValueOf(ctx)
			results := method.Call(args)
			if last := results[len(results)-1]; !last.IsNil() {
				err := last.Interface().(error)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				RecordInc(ctx, LensRequestFailure)
			}
			return results
		}))
	}
}
